package models

// AssetKind 资源类型
type AssetKind string

const (
	KindHTML       AssetKind = "html"
	KindCSS        AssetKind = "css"
	KindJavaScript AssetKind = "javascript"
	KindImage      AssetKind = "image"
	KindFont       AssetKind = "font"
	KindOther      AssetKind = "other"
)

// AllAssetKinds 报告中使用的固定顺序
var AllAssetKinds = []AssetKind{KindHTML, KindCSS, KindJavaScript, KindImage, KindFont, KindOther}

// Rewritable 是否需要链接提取与重写(仅html/css)
func (k AssetKind) Rewritable() bool {
	return k == KindHTML || k == KindCSS
}
