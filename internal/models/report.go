package models

import (
	"encoding/json"
	"time"
)

// DownloadRecord 成功下载(或本地已存在)的资源记录
// 每个规范URL至多一条, 与FailureRecord互斥
type DownloadRecord struct {
	URL         string    `json:"url"`          // 规范URL(请求时)
	FinalURL    string    `json:"final_url"`    // 重定向后的规范URL
	LocalPath   string    `json:"local_path"`   // 相对输出根目录的路径
	Size        int64     `json:"size"`         // 字节数
	Kind        AssetKind `json:"kind"`         // 资源类型
	ContentType string    `json:"content_type"` // 响应Content-Type
	Attempts    int       `json:"attempts"`     // 请求次数(跳过时为0)
	Depth       int       `json:"depth"`        // 爬取深度
	Skipped     bool      `json:"skipped"`      // 本地已存在,未重新下载
	FetchedAt   time.Time `json:"fetched_at"`
}

// FailureRecord 失败资源记录
// 重试耗尽或遇到永久错误时创建
type FailureRecord struct {
	URL        string    `json:"url"`
	Kind       ErrorKind `json:"error_kind"`  // 最后一次错误的分类
	StatusCode int       `json:"status_code"` // 最后一次HTTP状态码(传输错误为0)
	ErrorMsg   string    `json:"error_msg"`
	Attempts   int       `json:"attempts"`
	Depth      int       `json:"depth"`
}

// BrokenLink 存储文件中指向不存在本地文件的相对链接
type BrokenLink struct {
	File string `json:"file"`
	Link string `json:"link"`
}

// VerifyReport 完整性校验结果
type VerifyReport struct {
	Missing         []string     `json:"missing"`           // 被引用但既未下载也未失败的规范URL
	MissingInScope  int          `json:"missing_in_scope"`  // 其中站内的数量
	MissingExternal int          `json:"missing_external"`  // 其中站外的数量
	MissingFiles    []string     `json:"missing_files"`     // 有下载记录但本地文件不存在
	BrokenLinks     []BrokenLink `json:"broken_links"`      // 失效的本地相对链接
}

// Complete 是否没有发现任何缺口
func (r *VerifyReport) Complete() bool {
	return len(r.Missing) == 0 && len(r.MissingFiles) == 0 && len(r.BrokenLinks) == 0
}

// CrawlReport 镜像运行报告(机器可读)
type CrawlReport struct {
	RunID     string `json:"run_id"`
	BaseURL   string `json:"base_url"`
	OutputDir string `json:"output_dir"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// 统计信息
	Stats RunStatistics `json:"stats"`

	// 终态记录
	Downloads []DownloadRecord `json:"downloads"`
	Failures  []FailureRecord  `json:"failed_urls"`

	// 完整性校验
	Verify *VerifyReport `json:"verify,omitempty"`

	// 配置快照
	Config CrawlConfig `json:"config"`
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
