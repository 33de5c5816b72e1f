package crawlers

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// htmlLinkAttrs 标签 -> 携带单个URL的属性
// 提取与重写共用此表
var htmlLinkAttrs = map[string][]string{
	"a":      {"href"},
	"area":   {"href"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "data-src", "data-lazy-src"},
	"source": {"src"},
	"iframe": {"src"},
	"frame":  {"src"},
	"embed":  {"src"},
	"object": {"data"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"track":  {"src"},
	"input":  {"src"},
}

// srcsetTags 携带srcset属性的标签
var srcsetTags = map[string]bool{"img": true, "source": true}

// skippedPrefixes 直接丢弃的引用前缀
var skippedPrefixes = []string{"data:", "javascript:", "mailto:", "tel:", "about:", "blob:"}

// Reference 内容中出现的一个引用(原文形式)
type Reference struct {
	// Raw 引用原文(已去掉首尾空白)
	Raw string

	// Base 解析该引用时使用的基准URL(受<base href>影响)
	Base string
}

// ExtractLinks 从已抓取的内容中提取引用的URL
// 返回值已解析为绝对地址并规范化, 仅保留http/https, 去重且有序
// 解析失败时返回空集合和解析错误, 调用方记录日志后继续
func ExtractLinks(content []byte, kind models.AssetKind, baseURL string) ([]string, error) {
	refs, err := ExtractReferences(content, kind, baseURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(refs))
	links := make([]string, 0, len(refs))
	for _, ref := range refs {
		canonical, err := Canonicalize(ref.Raw, ref.Base)
		if err != nil || !IsFetchableScheme(canonical) {
			continue
		}
		if !seen[canonical] {
			seen[canonical] = true
			links = append(links, canonical)
		}
	}
	sort.Strings(links)
	return links, nil
}

// ExtractReferences 按资源类型分派, 返回原文引用列表
func ExtractReferences(content []byte, kind models.AssetKind, baseURL string) ([]Reference, error) {
	switch kind {
	case models.KindHTML:
		return extractHTMLReferences(content, baseURL)
	case models.KindCSS:
		return toReferences(cssReferences(string(content)), baseURL), nil
	default:
		return nil, nil
	}
}

// extractHTMLReferences 使用goquery提取HTML中的引用
func extractHTMLReferences(content []byte, baseURL string) ([]Reference, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, &models.FetchError{URL: baseURL, Kind: models.ErrParse, Cause: fmt.Errorf("解析HTML失败: %w", err)}
	}

	base, _ := documentBase(doc, baseURL)
	var raws []string

	for tag, attrs := range htmlLinkAttrs {
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range attrs {
				if v, ok := s.Attr(attr); ok {
					raws = append(raws, v)
				}
			}
		})
	}

	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("srcset")
		for _, c := range parseSrcset(v) {
			raws = append(raws, c.url)
		}
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("style")
		raws = append(raws, cssReferences(v)...)
	})

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		raws = append(raws, cssReferences(s.Text())...)
	})

	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return
		}
		v, _ := s.Attr("content")
		if target, _, _, ok := parseRefresh(v); ok {
			raws = append(raws, target)
		}
	})

	return toReferences(raws, base), nil
}

// documentBase 处理<base href>, 只有第一个生效
// 返回解析基准以及文档中是否带有<base href>
func documentBase(doc *goquery.Document, baseURL string) (string, bool) {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return baseURL, false
	}
	resolved, err := Canonicalize(href, baseURL)
	if err != nil || !IsFetchableScheme(resolved) {
		return baseURL, true
	}
	return resolved, true
}

// htmlDocumentBase 直接从HTML内容计算解析基准
func htmlDocumentBase(content []byte, baseURL string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return baseURL, false
	}
	return documentBase(doc, baseURL)
}

// toReferences 过滤空引用、文档内锚点与不可抓取的前缀
func toReferences(raws []string, base string) []Reference {
	refs := make([]Reference, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || hasSkippedPrefix(raw) {
			continue
		}
		refs = append(refs, Reference{Raw: raw, Base: base})
	}
	return refs
}

// hasSkippedPrefix 判断是否为需要丢弃的协议
func hasSkippedPrefix(raw string) bool {
	lower := strings.ToLower(raw)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// srcsetCandidate srcset中的一个候选项
type srcsetCandidate struct {
	url        string
	descriptor string
}

// parseSrcset 拆分srcset, 每个逗号分隔的候选项独立解析
func parseSrcset(value string) []srcsetCandidate {
	var candidates []srcsetCandidate
	for _, part := range strings.Split(value, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		candidates = append(candidates, srcsetCandidate{
			url:        fields[0],
			descriptor: strings.Join(fields[1:], " "),
		})
	}
	return candidates
}

// formatSrcset 重新组装srcset
func formatSrcset(candidates []srcsetCandidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.descriptor != "" {
			parts = append(parts, c.url+" "+c.descriptor)
		} else {
			parts = append(parts, c.url)
		}
	}
	return strings.Join(parts, ", ")
}

// parseRefresh 解析 <meta http-equiv="refresh" content="5; url=/next">
// 返回目标地址以及目标在content中的起止位置
func parseRefresh(content string) (string, int, int, bool) {
	lower := strings.ToLower(content)
	idx := strings.Index(lower, "url")
	if idx < 0 || !strings.ContainsAny(content[:idx], ";,") {
		return "", 0, 0, false
	}

	rest := content[idx+3:]
	offset := idx + 3
	trimmed := strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(trimmed, "=") {
		return "", 0, 0, false
	}
	offset += len(rest) - len(trimmed) + 1
	rest = trimmed[1:]

	trimmed = strings.TrimLeft(rest, " \t")
	offset += len(rest) - len(trimmed)
	rest = trimmed

	end := len(rest)
	if len(rest) > 0 && (rest[0] == '"' || rest[0] == '\'') {
		if closing := strings.IndexByte(rest[1:], rest[0]); closing >= 0 {
			end = closing + 1
		}
		rest = rest[1:end]
		offset++
		end = len(rest)
	}
	target := strings.TrimSpace(rest[:end])
	if target == "" {
		return "", 0, 0, false
	}
	start := offset + strings.Index(rest, target)
	return target, start, start + len(target), true
}
