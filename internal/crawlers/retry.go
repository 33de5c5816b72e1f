package crawlers

import (
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

// RetryPolicy 重试策略: 有上限的指数退避
type RetryPolicy struct {
	// MaxRetries 首次请求之外的最大重试次数
	MaxRetries int

	// BaseDelay 第一次重试前的等待时间
	BaseDelay time.Duration

	// MaxDelay 单次等待的上限
	MaxDelay time.Duration
}

// NewRetryPolicy 从爬取配置创建重试策略
func NewRetryPolicy(config models.CrawlConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: config.MaxRetries,
		BaseDelay:  config.RetryBaseDelay,
		MaxDelay:   config.RetryMaxDelay,
	}
}

// Backoff 第attempt次重试前的等待时间: min(base*2^(attempt-1), max)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// MaxAttempts 单个URL最多的请求次数
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}
