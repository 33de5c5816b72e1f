package crawlers

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// cssNewlines 与分词器一致的换行规范化
var cssNewlines = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\f", "\n")

// walkCSS 遍历CSS中的 url() 与 @import 引用
// fn 返回替换后的引用以及是否替换; 未替换的token按原文输出
// 返回重组后的文本以及是否有任何替换
func walkCSS(text string, fn func(ref string) (string, bool)) (string, bool) {
	text = cssNewlines.Replace(text)
	s := scanner.New(text)

	var out strings.Builder
	out.Grow(len(text))

	changed := false
	consumed := 0
	inImport := false

	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF {
			break
		}
		if tok.Type == scanner.TokenError {
			// 无法继续分词, 剩余部分原样保留
			if consumed < len(text) {
				out.WriteString(text[consumed:])
			}
			break
		}
		consumed += len(tok.Value)

		switch tok.Type {
		case scanner.TokenURI:
			inImport = false
			inner, quote := unwrapCSSURL(tok.Value)
			if replaced, ok := fn(inner); ok && replaced != inner {
				out.WriteString("url(" + quoteCSS(replaced, quote) + ")")
				changed = true
				continue
			}
		case scanner.TokenAtKeyword:
			inImport = strings.EqualFold(tok.Value, "@import")
		case scanner.TokenString:
			if inImport {
				inImport = false
				inner, quote := unquoteCSS(tok.Value)
				if replaced, ok := fn(inner); ok && replaced != inner {
					if quote == 0 {
						quote = '"'
					}
					out.WriteString(quoteCSS(replaced, quote))
					changed = true
					continue
				}
			}
		case scanner.TokenS, scanner.TokenComment:
			// @import 与目标之间允许空白和注释
		default:
			inImport = false
		}
		out.WriteString(tok.Value)
	}

	if !changed {
		return text, false
	}
	return out.String(), true
}

// cssReferences 收集CSS中的全部引用(原文形式)
func cssReferences(text string) []string {
	var refs []string
	walkCSS(text, func(ref string) (string, bool) {
		if ref != "" {
			refs = append(refs, ref)
		}
		return ref, false
	})
	return refs
}

// unwrapCSSURL 取出 url(...) 中的地址与引号
func unwrapCSSURL(value string) (string, byte) {
	inner := value
	if len(inner) >= 4 && strings.EqualFold(inner[:4], "url(") {
		inner = inner[4:]
	}
	inner = strings.TrimSuffix(inner, ")")
	inner = strings.TrimSpace(inner)
	return unquoteCSS(inner)
}

// unquoteCSS 去掉成对的引号, 返回内容与引号字符(无引号为0)
func unquoteCSS(s string) (string, byte) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], s[0]
	}
	return s, 0
}

// quoteCSS 按原引号输出; 无引号但含特殊字符时补双引号
func quoteCSS(s string, quote byte) string {
	if quote == 0 && strings.ContainsAny(s, " \t\n()'\"") {
		quote = '"'
	}
	if quote == 0 {
		return s
	}
	return string(quote) + s + string(quote)
}
