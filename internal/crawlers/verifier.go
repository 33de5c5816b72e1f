package crawlers

import (
	"bytes"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
)

// Verifier 完整性校验器
// 只依赖最终状态(下载记录、失败记录、别名表、磁盘文件), 重写前后结果一致
type Verifier struct {
	storage *Storage
	index   *ResourceIndex
	scope   *Scope
}

// NewVerifier 创建完整性校验器
func NewVerifier(storage *Storage, index *ResourceIndex, scope *Scope) *Verifier {
	return &Verifier{storage: storage, index: index, scope: scope}
}

// VerifyCompleteness 返回被引用但既未下载也未记录失败的URL(规范化、去重、有序)
func (v *Verifier) VerifyCompleteness() []string {
	missing := make(map[string]bool)

	for _, rec := range v.index.Records() {
		content, err := v.storage.Read(rec.LocalPath)
		if err != nil {
			continue
		}
		refs, err := ExtractReferences(content, rec.Kind, pageBase(rec))
		if err != nil {
			utils.Warnf("校验时解析失败 [%s]: %v", rec.LocalPath, err)
			continue
		}

		for _, ref := range refs {
			// 受<base>影响的引用不是相对文件目录的本地路径
			if ref.Base == pageBase(rec) {
				if _, ok := v.index.localTarget(ref.Raw, rec.LocalPath); ok {
					continue
				}
			}
			canonical, err := Canonicalize(ref.Raw, ref.Base)
			if err != nil || !IsFetchableScheme(canonical) {
				continue
			}
			if _, ok := v.index.Lookup(canonical); ok {
				continue
			}
			if v.index.Failed(canonical) {
				continue
			}
			missing[canonical] = true
		}
	}

	result := make([]string, 0, len(missing))
	for u := range missing {
		result = append(result, u)
	}
	sort.Strings(result)
	return result
}

// Verify 完整校验: 缺失引用(按站内/站外拆分)、丢失的本地文件、断开的本地链接
func (v *Verifier) Verify() models.VerifyReport {
	report := models.VerifyReport{
		Missing:      v.VerifyCompleteness(),
		MissingFiles: []string{},
		BrokenLinks:  []models.BrokenLink{},
	}

	for _, u := range report.Missing {
		if v.scope != nil && v.scope.Contains(u) {
			report.MissingInScope++
		} else {
			report.MissingExternal++
		}
	}

	for _, rec := range v.index.All() {
		if !v.storage.Exists(rec.LocalPath) {
			report.MissingFiles = append(report.MissingFiles, rec.LocalPath)
		}
	}

	for _, rec := range v.index.Records() {
		if rec.Kind != models.KindHTML {
			continue
		}
		report.BrokenLinks = append(report.BrokenLinks, v.brokenLinks(rec)...)
	}

	return report
}

// brokenLinks 检查html中指向本地文件的相对链接是否存在
func (v *Verifier) brokenLinks(rec *models.DownloadRecord) []models.BrokenLink {
	content, err := v.storage.Read(rec.LocalPath)
	if err != nil {
		return nil
	}
	refs, err := ExtractReferences(content, models.KindHTML, pageBase(rec))
	if err != nil {
		return nil
	}

	baseDir, local := documentBaseDir(content, rec.LocalPath)
	if !local {
		return nil
	}

	seen := make(map[string]bool)
	var broken []models.BrokenLink
	for _, ref := range refs {
		target, ok := localLinkPath(ref.Raw, baseDir)
		if !ok || seen[ref.Raw] {
			continue
		}
		seen[ref.Raw] = true
		if !v.storage.Exists(target) {
			broken = append(broken, models.BrokenLink{File: rec.LocalPath, Link: ref.Raw})
		}
	}
	return broken
}

// documentBaseDir 浏览器打开本地文件时解析相对链接所用的目录
// 没有<base href>时为文件所在目录; base为绝对地址时相对链接不指向本地文件
func documentBaseDir(content []byte, fromFile string) (string, bool) {
	dir := path.Dir(fromFile)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return dir, true
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return dir, true
	}
	if isAbsoluteReference(href) {
		return "", false
	}

	u, err := url.Parse(href)
	if err != nil {
		return dir, true
	}
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p = path.Dir(p)
	}
	return path.Join(dir, p), true
}

// localLinkPath 相对链接对应的本地文件路径, baseDir 为解析所用的本地目录
// 绝对URL、根路径、带查询串或纯锚点的引用不属于本地链接
func localLinkPath(raw, baseDir string) (string, bool) {
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "/") || isAbsoluteReference(raw) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery != "" || u.Path == "" {
		return "", false
	}

	target := path.Join(baseDir, u.Path)
	if target == ".." || strings.HasPrefix(target, "../") {
		return target, true
	}
	if strings.HasSuffix(u.Path, "/") {
		target = path.Join(target, "index.html")
	}
	return target, true
}
