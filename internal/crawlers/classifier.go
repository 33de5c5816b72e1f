package crawlers

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// extensionKinds 扩展名 -> 资源类型
var extensionKinds = map[string]models.AssetKind{
	".html": models.KindHTML, ".htm": models.KindHTML, ".xhtml": models.KindHTML,
	".php": models.KindHTML, ".asp": models.KindHTML, ".aspx": models.KindHTML, ".jsp": models.KindHTML,
	".css": models.KindCSS,
	".js": models.KindJavaScript, ".mjs": models.KindJavaScript,
	".jpg": models.KindImage, ".jpeg": models.KindImage, ".png": models.KindImage, ".gif": models.KindImage,
	".svg": models.KindImage, ".ico": models.KindImage, ".webp": models.KindImage, ".bmp": models.KindImage,
	".avif": models.KindImage,
	".woff": models.KindFont, ".woff2": models.KindFont, ".ttf": models.KindFont,
	".eot": models.KindFont, ".otf": models.KindFont,
}

// Classify 判断资源类型
// 优先使用Content-Type, 缺失或为通用类型时退回扩展名判断
func Classify(rawURL string, contentType string) models.AssetKind {
	if kind, ok := classifyContentType(contentType); ok {
		return kind
	}
	return ClassifyURL(rawURL)
}

// ClassifyURL 仅按扩展名判断资源类型, 无扩展名视为html
func ClassifyURL(rawURL string) models.AssetKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.KindOther
	}

	name := path.Base(u.Path)
	if u.Path == "" || strings.HasSuffix(u.Path, "/") || !strings.Contains(name, ".") {
		return models.KindHTML
	}

	if kind, ok := extensionKinds[strings.ToLower(path.Ext(name))]; ok {
		return kind
	}
	return models.KindOther
}

// classifyContentType 按媒体类型判断
// 第二个返回值为false表示Content-Type不足以判断
func classifyContentType(contentType string) (models.AssetKind, bool) {
	if strings.TrimSpace(contentType) == "" {
		return "", false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return models.KindHTML, true
	case mediaType == "text/css":
		return models.KindCSS, true
	case strings.Contains(mediaType, "javascript") || strings.Contains(mediaType, "ecmascript"):
		return models.KindJavaScript, true
	case strings.HasPrefix(mediaType, "image/"):
		return models.KindImage, true
	case strings.HasPrefix(mediaType, "font/"),
		strings.Contains(mediaType, "font-"),
		mediaType == "application/vnd.ms-fontobject":
		return models.KindFont, true
	case mediaType == "application/octet-stream",
		mediaType == "binary/octet-stream",
		mediaType == "text/plain":
		// 通用类型, 交给扩展名判断
		return "", false
	default:
		return models.KindOther, true
	}
}
