package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultUserAgent 默认User-Agent(桌面版Chrome)
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// CrawlConfig 镜像运行配置
// 运行开始前构造并校验一次,运行期间只读
type CrawlConfig struct {
	Delay             float64       `mapstructure:"delay" json:"delay"`                           // 任意两次请求开始之间的最小间隔(秒)
	MaxDepth          int           `mapstructure:"max_depth" json:"max_depth"`                   // 最大爬取深度
	MaxWorkers        int           `mapstructure:"max_workers" json:"max_workers"`               // 并发worker数量
	VerifySSL         bool          `mapstructure:"verify_ssl" json:"verify_ssl"`                 // 是否校验TLS证书
	IncludeSubdomains bool          `mapstructure:"include_subdomains" json:"include_subdomains"` // 子域名是否视为站内
	ForceRedownload   bool          `mapstructure:"force_redownload" json:"force_redownload"`     // 已存在的本地文件是否重新下载
	IgnoreRobots      bool          `mapstructure:"ignore_robots" json:"ignore_robots"`           // 忽略robots.txt
	UserAgent         string        `mapstructure:"user_agent" json:"user_agent"`                 // 请求User-Agent
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`                       // 单次请求超时
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`               // 首次请求之外的最大重试次数
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" json:"retry_base_delay"`     // 退避基础时长
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay" json:"retry_max_delay"`       // 退避上限
	MaxBodySize       int           `mapstructure:"max_body_size" json:"max_body_size"`           // 响应体大小上限(字节, 0表示不限制)
}

// DefaultCrawlConfig 默认镜像配置
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		Delay:             1.0,
		MaxDepth:          10,
		MaxWorkers:        1,
		VerifySSL:         true,
		IncludeSubdomains: false,
		ForceRedownload:   false,
		IgnoreRobots:      false,
		UserAgent:         DefaultUserAgent,
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     30 * time.Second,
		MaxBodySize:       0,
	}
}

const (
	// MinTimeout 请求超时下限
	MinTimeout = time.Second

	// MinRetryDelay 非零退避时长的下限
	MinRetryDelay = time.Millisecond
)

// Validate 验证配置
// 任何越界值都返回*ConfigError,运行不会开始
func (c *CrawlConfig) Validate() error {
	if math.IsNaN(c.Delay) || math.IsInf(c.Delay, 0) || c.Delay < 0 || c.Delay > 3600 {
		return NewConfigError("delay", fmt.Errorf("请求间隔必须在0-3600秒之间,当前值: %v", c.Delay))
	}
	if c.MaxDepth < 0 || c.MaxDepth > 100 {
		return NewConfigError("max_depth", fmt.Errorf("爬取深度必须在0-100之间,当前值: %d", c.MaxDepth))
	}
	if c.MaxWorkers < 1 || c.MaxWorkers > 100 {
		return NewConfigError("max_workers", fmt.Errorf("并发数必须在1-100之间,当前值: %d", c.MaxWorkers))
	}
	if strings.ContainsAny(c.UserAgent, "\r\n") {
		return NewConfigError("user_agent", fmt.Errorf("User-Agent不能包含换行符"))
	}
	if c.Timeout < MinTimeout {
		return NewConfigError("timeout", fmt.Errorf("请求超时不能小于%v,当前值: %v", MinTimeout, c.Timeout))
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return NewConfigError("max_retries", fmt.Errorf("重试次数必须在0-10之间,当前值: %d", c.MaxRetries))
	}
	if c.RetryBaseDelay < 0 || (c.RetryBaseDelay > 0 && c.RetryBaseDelay < MinRetryDelay) {
		return NewConfigError("retry_base_delay", fmt.Errorf("退避基础时长必须为0或不小于%v,当前值: %v", MinRetryDelay, c.RetryBaseDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return NewConfigError("retry_max_delay", fmt.Errorf("退避上限(%v)不能小于基础时长(%v)", c.RetryMaxDelay, c.RetryBaseDelay))
	}
	if c.MaxBodySize < 0 {
		return NewConfigError("max_body_size", fmt.Errorf("响应体大小上限不能为负数,当前值: %d", c.MaxBodySize))
	}
	return nil
}

// PacingInterval 全局请求间隔
func (c *CrawlConfig) PacingInterval() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// RunStatistics 运行统计
// 仅由编排器写入,运行结束后只读
type RunStatistics struct {
	Downloaded     int               `json:"downloaded"`      // 成功下载数
	Failed         int               `json:"failed"`          // 失败数
	Skipped        int               `json:"skipped"`         // 本地已存在而跳过的数量
	TotalBytes     int64             `json:"total_bytes"`     // 下载总字节数
	Elapsed        float64           `json:"elapsed"`         // 总耗时(秒)
	Retries        int               `json:"retries"`         // 重试总次数
	RetryHistogram map[int]int       `json:"retry_histogram"` // 重试次数 -> URL数量
	ByKind         map[AssetKind]int `json:"by_kind"`         // 按资源类型统计的下载数
	Rewritten      int               `json:"rewritten"`       // 链接重写修改的文件数
	Missing        int               `json:"missing"`         // 完整性校验发现的缺失引用数
	PeakHeapBytes  uint64            `json:"peak_heap_bytes"` // 进程堆内存峰值
	SystemMemUsed  float64           `json:"system_mem_used"` // 运行结束时系统内存使用率(%)
}

// NewRunStatistics 创建空统计
func NewRunStatistics() RunStatistics {
	return RunStatistics{
		RetryHistogram: make(map[int]int),
		ByKind:         make(map[AssetKind]int),
	}
}

// Terminal 已有终态的URL数量
func (s *RunStatistics) Terminal() int {
	return s.Downloaded + s.Skipped + s.Failed
}
