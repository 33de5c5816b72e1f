package crawlers

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"github.com/temoto/robotstxt"
)

// RobotsPolicy robots.txt访问规则
// 每个源(scheme+host)只请求一次并缓存; 请求失败时放行
type RobotsPolicy struct {
	fetcher   Fetcher
	userAgent string

	mu      sync.Mutex
	origins map[string]*robotsEntry
}

type robotsEntry struct {
	once  sync.Once
	group *robotstxt.Group
}

// NewRobotsPolicy 创建robots策略
func NewRobotsPolicy(fetcher Fetcher, userAgent string) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher:   fetcher,
		userAgent: userAgent,
		origins:   make(map[string]*robotsEntry),
	}
}

// CanFetch 判断URL是否允许抓取
func (rp *RobotsPolicy) CanFetch(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	group := rp.group(ctx, u)
	if group == nil {
		return true
	}

	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return group.Test(target)
}

// CrawlDelay 源站声明的Crawl-delay, 未声明时为0
func (rp *RobotsPolicy) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	group := rp.group(ctx, u)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// group 获取(必要时下载)该源的规则组
func (rp *RobotsPolicy) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	origin := u.Scheme + "://" + u.Host

	rp.mu.Lock()
	entry, ok := rp.origins[origin]
	if !ok {
		entry = &robotsEntry{}
		rp.origins[origin] = entry
	}
	rp.mu.Unlock()

	entry.once.Do(func() {
		entry.group = rp.load(ctx, origin)
	})
	return entry.group
}

// load 下载并解析robots.txt
func (rp *RobotsPolicy) load(ctx context.Context, origin string) *robotstxt.Group {
	robotsURL := origin + "/robots.txt"

	result, err := rp.fetcher.Fetch(ctx, robotsURL)
	if result == nil {
		utils.Debugf("获取robots.txt失败, 默认放行 [%s]: %v", robotsURL, err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(result.StatusCode, result.Body)
	if err != nil {
		utils.Warnf("解析robots.txt失败, 默认放行 [%s]: %v", robotsURL, err)
		return nil
	}

	group := data.FindGroup(rp.userAgent)
	if group != nil && group.CrawlDelay > 0 {
		utils.Infof("🤖 robots.txt 声明 Crawl-delay: %v [%s]", group.CrawlDelay, origin)
	}
	return group
}
