package crawlers

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// ResourceIndex 运行终态的只读索引
// 链接重写与完整性校验共用, 构造后不再修改
type ResourceIndex struct {
	byURL   map[string]*models.DownloadRecord
	byPath  map[string]*models.DownloadRecord
	failed  map[string]bool
	aliases map[string]string
}

// NewResourceIndex 根据下载记录、失败记录与别名表建立索引
func NewResourceIndex(downloads []models.DownloadRecord, failures []models.FailureRecord, aliases map[string]string) *ResourceIndex {
	ix := &ResourceIndex{
		byURL:   make(map[string]*models.DownloadRecord, len(downloads)*2),
		byPath:  make(map[string]*models.DownloadRecord, len(downloads)),
		failed:  make(map[string]bool, len(failures)),
		aliases: make(map[string]string, len(aliases)),
	}
	for i := range downloads {
		rec := &downloads[i]
		ix.byURL[rec.URL] = rec
		if rec.FinalURL != "" {
			if _, exists := ix.byURL[rec.FinalURL]; !exists {
				ix.byURL[rec.FinalURL] = rec
			}
		}
		ix.byPath[rec.LocalPath] = rec
	}
	for _, f := range failures {
		ix.failed[f.URL] = true
	}
	for k, v := range aliases {
		ix.aliases[k] = v
	}
	return ix
}

// Lookup 按规范URL查找下载记录, 会经过别名表
func (ix *ResourceIndex) Lookup(canonical string) (*models.DownloadRecord, bool) {
	if rec, ok := ix.byURL[canonical]; ok {
		return rec, true
	}
	if final, ok := ix.aliases[canonical]; ok {
		rec, ok := ix.byURL[final]
		return rec, ok
	}
	return nil, false
}

// Failed 规范URL(或其别名目标)是否有失败记录
func (ix *ResourceIndex) Failed(canonical string) bool {
	if ix.failed[canonical] {
		return true
	}
	if final, ok := ix.aliases[canonical]; ok {
		return ix.failed[final]
	}
	return false
}

// StoredAt 按本地相对路径查找记录
func (ix *ResourceIndex) StoredAt(localPath string) (*models.DownloadRecord, bool) {
	rec, ok := ix.byPath[localPath]
	return rec, ok
}

// Records 所有需要扫描的html/css记录, 按本地路径排序
func (ix *ResourceIndex) Records() []*models.DownloadRecord {
	paths := make([]string, 0, len(ix.byPath))
	for p, rec := range ix.byPath {
		if rec.Kind.Rewritable() {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	records := make([]*models.DownloadRecord, 0, len(paths))
	for _, p := range paths {
		records = append(records, ix.byPath[p])
	}
	return records
}

// localTarget 判断引用是否已经指向一个本地存储的文件
// 只处理纯相对路径(无scheme、非 "//" 与 "/" 开头、无查询串)
func (ix *ResourceIndex) localTarget(raw string, fromFile string) (*models.DownloadRecord, bool) {
	if isAbsoluteReference(raw) {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery != "" || u.Path == "" {
		return nil, false
	}
	target := path.Join(path.Dir(fromFile), u.Path)
	if strings.HasPrefix(target, "../") || target == ".." {
		return nil, false
	}
	return ix.StoredAt(target)
}

// isAbsoluteReference 带scheme、协议相对或根相对的引用
func isAbsoluteReference(raw string) bool {
	if strings.HasPrefix(raw, "/") {
		return true
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != ""
}

// relativeLink 计算从fromFile所在目录到toFile的相对链接, 已做URL转义
func relativeLink(fromFile, toFile string) string {
	fromDir := path.Dir(fromFile)
	if fromDir == "." {
		fromDir = ""
	}

	fromParts := splitPath(fromDir)
	toParts := splitPath(toFile)

	common := 0
	for common < len(fromParts) && common < len(toParts)-1 && fromParts[common] == toParts[common] {
		common++
	}

	parts := make([]string, 0, len(fromParts)-common+len(toParts)-common)
	for i := common; i < len(fromParts); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, toParts[common:]...)
	rel := strings.Join(parts, "/")

	escaped := (&url.URL{Path: rel}).EscapedPath()
	// 第一段包含冒号时会被误认为scheme
	if first := strings.SplitN(escaped, "/", 2)[0]; strings.Contains(first, ":") {
		escaped = "./" + escaped
	}
	return escaped
}

// splitPath 拆分斜杠路径, 忽略空段
func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

// All 所有下载记录, 按本地路径排序
func (ix *ResourceIndex) All() []*models.DownloadRecord {
	paths := make([]string, 0, len(ix.byPath))
	for p := range ix.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	records := make([]*models.DownloadRecord, 0, len(paths))
	for _, p := range paths {
		records = append(records, ix.byPath[p])
	}
	return records
}

// pageBase 页面内引用的解析基准(重定向后的URL优先)
func pageBase(rec *models.DownloadRecord) string {
	if rec.FinalURL != "" {
		return rec.FinalURL
	}
	return rec.URL
}
