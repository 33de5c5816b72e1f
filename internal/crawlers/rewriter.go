package crawlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"golang.org/x/net/html"
)

// Rewriter 链接重写器
// 把已存储html/css中指向已下载资源的引用改写为本地相对路径
// 站外、失败或未下载的引用保持原样; 重复执行不会产生新的修改
type Rewriter struct {
	storage *Storage
	index   *ResourceIndex
}

// NewRewriter 创建链接重写器
func NewRewriter(storage *Storage, index *ResourceIndex) *Rewriter {
	return &Rewriter{storage: storage, index: index}
}

// RewriteAll 重写所有html/css文件, 仅在内容变化时写回
// 返回被修改的文件数; 单个文件失败不会中断, 错误合并返回
func (rw *Rewriter) RewriteAll() (int, error) {
	changedFiles := 0
	var errs []error

	for _, rec := range rw.index.Records() {
		changed, err := rw.RewriteFile(rec)
		if err != nil {
			utils.Warnf("重写链接失败 [%s]: %v", rec.LocalPath, err)
			errs = append(errs, err)
			continue
		}
		if changed {
			changedFiles++
		}
	}

	return changedFiles, errors.Join(errs...)
}

// RewriteFile 重写单个已存储文件
func (rw *Rewriter) RewriteFile(rec *models.DownloadRecord) (bool, error) {
	content, err := rw.storage.Read(rec.LocalPath)
	if err != nil {
		return false, &models.FetchError{URL: rec.URL, Kind: models.ErrFilesystem, Cause: fmt.Errorf("读取文件失败: %w", err)}
	}

	rewritten, changed, err := rw.RewriteContent(content, rec.Kind, pageBase(rec), rec.LocalPath)
	if err != nil || !changed {
		return false, err
	}

	if err := rw.storage.Write(rec.URL, rec.LocalPath, rewritten); err != nil {
		return false, err
	}
	utils.Debugf("已重写链接: %s", rec.LocalPath)
	return true, nil
}

// RewriteContent 重写内容中的引用
// pageURL 用于解析引用, pageFile 为该内容的本地相对路径
func (rw *Rewriter) RewriteContent(content []byte, kind models.AssetKind, pageURL, pageFile string) ([]byte, bool, error) {
	switch kind {
	case models.KindHTML:
		return rw.rewriteHTML(content, pageURL, pageFile)
	case models.KindCSS:
		text, changed := walkCSS(string(content), rw.refRewriter(pageURL, pageFile, false))
		if !changed {
			return content, false, nil
		}
		return []byte(text), true, nil
	default:
		return content, false, nil
	}
}

// rewriteHTML 逐token重写; 未修改的token按原始字节输出
// <base href> 会被移除: 本地镜像中的相对路径必须按文件所在目录解析,
// 未下载的相对引用同时改为绝对地址, 保持移除前的指向
func (rw *Rewriter) rewriteHTML(content []byte, pageURL, pageFile string) ([]byte, bool, error) {
	base, baseTag := htmlDocumentBase(content, pageURL)
	rewrite := rw.refRewriter(base, pageFile, baseTag)

	z := html.NewTokenizer(bytes.NewReader(content))

	var out bytes.Buffer
	out.Grow(len(content))

	changed := false
	inStyle := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return content, false, &models.FetchError{URL: pageURL, Kind: models.ErrParse, Cause: fmt.Errorf("解析HTML失败: %w", z.Err())}
		}
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "base" {
				if _, ok := tokenAttr(tok, "href"); ok {
					changed = true
					continue
				}
			}
			if rw.rewriteTag(&tok, rewrite) {
				out.WriteString(tok.String())
				changed = true
			} else {
				out.Write(raw)
			}
			inStyle = tt == html.StartTagToken && tok.Data == "style"

		case html.TextToken:
			if inStyle {
				if text, ok := walkCSS(string(raw), rewrite); ok {
					out.WriteString(text)
					changed = true
					continue
				}
			}
			out.Write(raw)

		case html.EndTagToken:
			inStyle = false
			if baseTag && z.Token().Data == "base" {
				continue
			}
			out.Write(raw)

		default:
			out.Write(raw)
		}
	}

	if !changed {
		return content, false, nil
	}
	return out.Bytes(), true, nil
}

// rewriteTag 重写单个标签的属性, 返回是否有修改
func (rw *Rewriter) rewriteTag(tok *html.Token, rewrite func(string) (string, bool)) bool {
	linkAttrs := htmlLinkAttrs[tok.Data]
	changed := false

	for i := range tok.Attr {
		attr := &tok.Attr[i]
		if attr.Namespace != "" {
			continue
		}

		switch {
		case containsString(linkAttrs, attr.Key):
			if v, ok := rewrite(attr.Val); ok {
				attr.Val = v
				changed = true
			}

		case attr.Key == "srcset" && srcsetTags[tok.Data]:
			candidates := parseSrcset(attr.Val)
			touched := false
			for j := range candidates {
				if v, ok := rewrite(candidates[j].url); ok {
					candidates[j].url = v
					touched = true
				}
			}
			if touched {
				attr.Val = formatSrcset(candidates)
				changed = true
			}

		case attr.Key == "style":
			if v, ok := walkCSS(attr.Val, rewrite); ok {
				attr.Val = v
				changed = true
			}

		case attr.Key == "content" && tok.Data == "meta" && isRefreshMeta(tok):
			if target, start, end, ok := parseRefresh(attr.Val); ok {
				if v, ok := rewrite(target); ok {
					attr.Val = attr.Val[:start] + v + attr.Val[end:]
					changed = true
				}
			}
		}
	}
	return changed
}

// refRewriter 返回单个引用的改写函数
// baseTag 表示原文档带有<base href>, 重写后该标签会被移除
func (rw *Rewriter) refRewriter(base, pageFile string, baseTag bool) func(string) (string, bool) {
	return func(raw string) (string, bool) {
		return rw.rewriteRef(raw, base, pageFile, baseTag)
	}
}

// rewriteRef 改写单个引用
// 已指向本地文件的相对路径不再处理, 保证重复执行无变化
func (rw *Rewriter) rewriteRef(raw, base, pageFile string, baseTag bool) (string, bool) {
	ref := strings.TrimSpace(raw)
	if ref == "" || strings.HasPrefix(ref, "#") || hasSkippedPrefix(ref) {
		return raw, false
	}
	// 带<base>的文档还没有重写过, 相对引用按base解析
	if !baseTag {
		if _, ok := rw.index.localTarget(ref, pageFile); ok {
			return raw, false
		}
	}

	canonical, err := Canonicalize(ref, base)
	if err != nil || !IsFetchableScheme(canonical) {
		return raw, false
	}

	fragment := ""
	if idx := strings.IndexByte(ref, '#'); idx >= 0 && idx < len(ref)-1 {
		fragment = ref[idx:]
	}

	rec, ok := rw.index.Lookup(canonical)
	if !ok {
		if baseTag && canonical+fragment != ref {
			return canonical + fragment, true
		}
		return raw, false
	}

	link := relativeLink(pageFile, rec.LocalPath) + fragment
	if link == ref {
		return raw, false
	}
	return link, true
}

// tokenAttr 读取token属性
func tokenAttr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// isRefreshMeta 是否为 <meta http-equiv="refresh">
func isRefreshMeta(tok *html.Token) bool {
	equiv, ok := tokenAttr(*tok, "http-equiv")
	return ok && strings.EqualFold(strings.TrimSpace(equiv), "refresh")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
