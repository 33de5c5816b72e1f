package crawlers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer 全局请求节流器
// 任意两次请求的开始时间间隔不小于interval, 对所有worker与所有主机生效
type Pacer struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
}

// NewPacer 创建节流器, interval为0时不做限制
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		limiter:  rate.NewLimiter(limitFor(interval), 1),
		interval: interval,
	}
}

// Wait 阻塞直到允许发起下一次请求
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Raise 把间隔提高到interval(仅在更大时生效)
func (p *Pacer) Raise(interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if interval <= p.interval {
		return false
	}
	p.interval = interval
	p.limiter.SetLimit(limitFor(interval))
	return true
}

// Interval 当前间隔
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
