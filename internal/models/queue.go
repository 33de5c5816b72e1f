package models

// CrawlEntry 表示前沿队列中的一个待爬项
// 首次发现时创建,之后不再修改(先到的深度生效)
type CrawlEntry struct {
	// URL 规范化后的URL
	URL string

	// Depth URL的深度层级
	//   - 0: 入口URL
	//   - 1: 从入口页面发现的链接
	//   - 以此类推...
	Depth int

	// Parent 发现此URL的页面(入口URL为空)
	Parent string
}

// EntryState 访问登记表中的URL状态
// 状态只能单向推进: Pending -> Fetching -> Done
type EntryState int

const (
	StatePending EntryState = iota
	StateFetching
	StateDone
)

// String 状态名称
func (s EntryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
