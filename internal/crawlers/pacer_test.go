package crawlers

import (
	"context"
	"testing"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

func TestPacer_Spacing(t *testing.T) {
	interval := 40 * time.Millisecond
	pacer := NewPacer(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() 返回错误: %v", err)
		}
	}
	// 第一次立即放行, 之后每次间隔interval
	if elapsed := time.Since(start); elapsed < 3*interval-5*time.Millisecond {
		t.Errorf("4次请求耗时 %v, 应不少于 %v", elapsed, 3*interval)
	}
}

func TestPacer_Unlimited(t *testing.T) {
	pacer := NewPacer(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() 返回错误: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("间隔为0时不应限速, 耗时 %v", elapsed)
	}
}

func TestPacer_Raise(t *testing.T) {
	pacer := NewPacer(time.Second)

	if pacer.Raise(500 * time.Millisecond) {
		t.Error("更小的间隔不应生效")
	}
	if !pacer.Raise(2 * time.Second) {
		t.Error("更大的间隔应生效")
	}
	if pacer.Interval() != 2*time.Second {
		t.Errorf("Interval() = %v, want 2s", pacer.Interval())
	}
}

func TestPacer_WaitCanceled(t *testing.T) {
	pacer := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := pacer.Wait(ctx); err != nil {
		t.Fatalf("第一次Wait() 返回错误: %v", err)
	}
	cancel()
	if err := pacer.Wait(ctx); err == nil {
		t.Error("已取消的context应返回错误")
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if got := (RetryPolicy{}).Backoff(3); got != 0 {
		t.Errorf("零值策略 Backoff(3) = %v, want 0", got)
	}
}

func TestNewRetryPolicy(t *testing.T) {
	config := models.DefaultCrawlConfig()
	policy := NewRetryPolicy(config)

	if policy.MaxAttempts() != config.MaxRetries+1 {
		t.Errorf("MaxAttempts() = %d, want %d", policy.MaxAttempts(), config.MaxRetries+1)
	}
	if policy.BaseDelay != config.RetryBaseDelay || policy.MaxDelay != config.RetryMaxDelay {
		t.Errorf("NewRetryPolicy() = %+v", policy)
	}
}
