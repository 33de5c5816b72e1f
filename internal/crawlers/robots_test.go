package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

func TestRobotsPolicy(t *testing.T) {
	var robotsHits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\nCrawl-delay: 2\n")
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	policy := NewRobotsPolicy(newTestFetcher(), models.DefaultUserAgent)
	ctx := context.Background()

	if policy.CanFetch(ctx, server.URL+"/private/data.html") {
		t.Error("/private 应被禁止")
	}
	if !policy.CanFetch(ctx, server.URL+"/public/page.html") {
		t.Error("/public 应被允许")
	}
	if got := policy.CrawlDelay(ctx, server.URL+"/"); got != 2*time.Second {
		t.Errorf("CrawlDelay() = %v, want 2s", got)
	}
	if robotsHits.Load() != 1 {
		t.Errorf("robots.txt 请求次数 = %d, want 1", robotsHits.Load())
	}
}

func TestRobotsPolicy_Missing(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	policy := NewRobotsPolicy(newTestFetcher(), models.DefaultUserAgent)
	if !policy.CanFetch(context.Background(), server.URL+"/anything") {
		t.Error("robots.txt 不存在时应放行")
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(_ context.Context, rawURL string) (*FetchResult, error) {
	return nil, &models.FetchError{URL: rawURL, Kind: models.ErrTransientNetwork, Cause: errors.New("connection reset")}
}

func TestRobotsPolicy_FailOpen(t *testing.T) {
	policy := NewRobotsPolicy(failingFetcher{}, models.DefaultUserAgent)
	if !policy.CanFetch(context.Background(), "https://example.com/private") {
		t.Error("robots.txt 获取失败时应放行")
	}
	if policy.CrawlDelay(context.Background(), "https://example.com/") != 0 {
		t.Error("robots.txt 获取失败时 CrawlDelay 应为0")
	}
}
