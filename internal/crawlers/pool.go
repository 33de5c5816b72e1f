package crawlers

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Executor 执行单个URL的抓取
// 每次请求前经过全局节流, 仅临时错误按退避策略重试
type Executor struct {
	fetcher Fetcher
	pacer   *Pacer
	policy  RetryPolicy

	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor 创建抓取执行器
func NewExecutor(fetcher Fetcher, pacer *Pacer, policy RetryPolicy) *Executor {
	return &Executor{
		fetcher: fetcher,
		pacer:   pacer,
		policy:  policy,
		sleep:   sleepContext,
	}
}

// Execute 抓取URL, 返回结果、实际请求次数与最终错误
// 永久错误不重试; 重试耗尽时返回最后一次的错误
func (e *Executor) Execute(ctx context.Context, rawURL string) (*FetchResult, int, error) {
	var (
		result  *FetchResult
		lastErr error
	)
	maxAttempts := e.policy.MaxAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.policy.Backoff(attempt - 1)
			utils.Debugf("第%d次重试 [%s], 等待 %v", attempt-1, rawURL, delay)
			if err := e.sleep(ctx, delay); err != nil {
				return result, attempt - 1, lastErr
			}
		}
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = &models.FetchError{URL: rawURL, Kind: models.ErrTransientNetwork, Cause: err}
				}
				return result, attempt - 1, lastErr
			}
		}

		var err error
		result, err = e.fetcher.Fetch(ctx, rawURL)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		var fe *models.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() {
			return result, attempt, err
		}
		if attempt < maxAttempts {
			utils.Warnf("临时错误, 准备重试 [%s]: %v", rawURL, err)
		}
	}
	return result, maxAttempts, lastErr
}

// sleepContext 可被取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pool 有界worker池
// 每个worker循环从前沿队列取URL直到队列关闭
type Pool struct {
	workers int
}

// NewPool 创建worker池
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers worker数量
func (p *Pool) Workers() int {
	return p.workers
}

// Run 启动所有worker并等待它们退出
// handle 负责处理单个URL并最终让该URL在前沿队列中完成
func (p *Pool) Run(ctx context.Context, frontier *Frontier, handle func(ctx context.Context, entry models.CrawlEntry)) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			utils.Debugf("worker %d 启动", id)
			for {
				entry, ok := frontier.Dequeue()
				if !ok {
					utils.Debugf("worker %d 退出", id)
					return nil
				}
				handle(gctx, entry)
			}
		})
	}
	return g.Wait()
}
