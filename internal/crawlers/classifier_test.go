package crawlers

import (
	"testing"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		want        models.AssetKind
	}{
		{"Content-Type为css", "https://e.com/a.css", "text/css; charset=utf-8", models.KindCSS},
		{"Content-Type优先于扩展名", "https://e.com/style.php", "text/css", models.KindCSS},
		{"无扩展名的html", "https://e.com/a", "text/html", models.KindHTML},
		{"octet-stream退回扩展名", "https://e.com/file.png", "application/octet-stream", models.KindImage},
		{"text/plain退回扩展名", "https://e.com/app.js", "text/plain", models.KindJavaScript},
		{"json为其它", "https://e.com/data", "application/json", models.KindOther},
		{"字体扩展名", "https://e.com/font.woff2", "", models.KindFont},
		{"带查询串的js", "https://e.com/app.js?v=1", "", models.KindJavaScript},
		{"目录视为html", "https://e.com/docs/", "", models.KindHTML},
		{"未知扩展名", "https://e.com/archive.zip", "", models.KindOther},
		{"无扩展名视为html", "https://e.com/page", "", models.KindHTML},
		{"扩展名大小写不敏感", "https://e.com/IMG.JPG", "", models.KindImage},
		{"image类型", "https://e.com/pic", "image/webp", models.KindImage},
		{"font类型", "https://e.com/f", "font/woff2", models.KindFont},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.url, tt.contentType); got != tt.want {
				t.Errorf("Classify(%q, %q) = %v, want %v", tt.url, tt.contentType, got, tt.want)
			}
		})
	}
}
