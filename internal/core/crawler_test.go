package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/manifest"
	"github.com/RecoveryAshes/sitemirror/internal/metrics"
	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
)

// testSite 带请求计数的测试站点
type testSite struct {
	server *httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

// page 一个测试页面
type page struct {
	contentType string
	body        string
	status      int
}

// newTestSite 启动测试站点, extra 中的路径优先于 pages
func newTestSite(t *testing.T, pages map[string]page, extra ...map[string]http.Handler) *testSite {
	t.Helper()

	ts := &testSite{hits: make(map[string]int)}
	mux := http.NewServeMux()
	for _, handlers := range extra {
		for path, h := range handlers {
			mux.Handle(path, h)
		}
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		ts.mu.Unlock()

		p, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if p.contentType != "" {
			w.Header().Set("Content-Type", p.contentType)
		}
		if p.status != 0 {
			w.WriteHeader(p.status)
		}
		fmt.Fprint(w, p.body)
	})
	ts.server = httptest.NewServer(mux)
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testSite) url(path string) string {
	return ts.server.URL + path
}

func (ts *testSite) hitCount(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[path]
}

// testConfig 测试用配置: 不等待, 短退避, 忽略robots
func testConfig() models.CrawlConfig {
	config := models.DefaultCrawlConfig()
	config.Delay = 0
	config.MaxWorkers = 2
	config.IgnoreRobots = true
	config.Timeout = 5 * time.Second
	config.RetryBaseDelay = 10 * time.Millisecond
	config.RetryMaxDelay = 50 * time.Millisecond
	return config
}

// smallSite 入口页面链接站内页面、站外站点与共享样式表
func smallSite(t *testing.T) *testSite {
	return newTestSite(t, map[string]page{
		"/": {contentType: "text/html; charset=utf-8", body: `<html><head><link rel="stylesheet" href="/shared.css"></head>
<body><a href="/a.html">A</a> <a href="https://other.example/">other</a></body></html>`},
		"/a.html": {contentType: "text/html", body: `<html><head><link rel="stylesheet" href="shared.css"></head>
<body><a href="/">home</a></body></html>`},
		"/shared.css": {contentType: "text/css", body: `body { color: black }`},
	})
}

func findDownload(report *models.CrawlReport, url string) *models.DownloadRecord {
	for i := range report.Downloads {
		if report.Downloads[i].URL == url {
			return &report.Downloads[i]
		}
	}
	return nil
}

func TestCrawler_Crawl(t *testing.T) {
	site := smallSite(t)
	dir := t.TempDir()

	crawler, err := NewCrawler(site.url("/"), testConfig(), dir)
	if err != nil {
		t.Fatalf("NewCrawler() error = %v", err)
	}

	report, err := crawler.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if report.Stats.Downloaded != 3 {
		t.Errorf("Downloaded = %d, want 3", report.Stats.Downloaded)
	}
	if len(report.Failures) != 0 {
		t.Errorf("Failures = %+v, want none", report.Failures)
	}
	for _, u := range []string{site.url("/"), site.url("/a.html"), site.url("/shared.css")} {
		if findDownload(report, u) == nil {
			t.Errorf("缺少下载记录: %s", u)
		}
	}
	if n := site.hitCount("/shared.css"); n != 1 {
		t.Errorf("/shared.css 请求次数 = %d, want 1", n)
	}
	if report.Stats.ByKind[models.KindHTML] != 2 || report.Stats.ByKind[models.KindCSS] != 1 {
		t.Errorf("ByKind = %v", report.Stats.ByKind)
	}

	index, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("读取index.html失败: %v", err)
	}
	for _, want := range []string{`href="a.html"`, `href="shared.css"`, `href="https://other.example/"`} {
		if !strings.Contains(string(index), want) {
			t.Errorf("index.html 缺少 %s:\n%s", want, index)
		}
	}

	if report.Verify == nil {
		t.Fatal("Verify 为空")
	}
	if report.Verify.MissingInScope != 0 || report.Verify.MissingExternal != 1 {
		t.Errorf("Verify = %+v, want 0 in-scope / 1 external", report.Verify)
	}

	for _, name := range []string{utils.ReportFileName, utils.SummaryFileName, manifest.FileName, metrics.FileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("缺少输出文件 %s: %v", name, err)
		}
	}
}

func TestCrawler_Failures(t *testing.T) {
	var (
		mu    sync.Mutex
		flaky int
	)
	// /flaky.css 前两次返回503
	flakyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		flaky++
		n := flaky
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "p{}")
	})
	site := newTestSite(t, map[string]page{
		"/": {contentType: "text/html", body: `<a href="/missing">x</a><link href="/flaky.css" rel="stylesheet">`},
	}, map[string]http.Handler{"/flaky.css": flakyHandler})

	report, err := mustCrawler(t, site.url("/"), testConfig(), t.TempDir()).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %+v, want 1", report.Failures)
	}
	f := report.Failures[0]
	if f.URL != site.url("/missing") || f.Attempts != 1 || f.StatusCode != 404 || f.Kind != models.ErrPermanent {
		t.Errorf("Failure = %+v", f)
	}

	rec := findDownload(report, site.url("/flaky.css"))
	if rec == nil {
		t.Fatal("缺少 /flaky.css 下载记录")
	}
	if rec.Attempts != 3 {
		t.Errorf("/flaky.css Attempts = %d, want 3", rec.Attempts)
	}
	if report.Stats.Retries != 2 || report.Stats.RetryHistogram[2] != 1 {
		t.Errorf("Retries = %d, histogram = %v", report.Stats.Retries, report.Stats.RetryHistogram)
	}
}

func TestCrawler_MaxDepth(t *testing.T) {
	site := newTestSite(t, map[string]page{
		"/":       {contentType: "text/html", body: `<a href="/a.html">a</a>`},
		"/a.html": {contentType: "text/html", body: `<a href="/b.html">b</a>`},
		"/b.html": {contentType: "text/html", body: `end`},
	})

	config := testConfig()
	config.MaxDepth = 1

	report, err := mustCrawler(t, site.url("/"), config, t.TempDir()).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if site.hitCount("/b.html") != 0 {
		t.Error("超出深度的 /b.html 不应被请求")
	}
	for _, rec := range report.Downloads {
		if rec.Depth > config.MaxDepth {
			t.Errorf("%s 深度 %d 超出上限", rec.URL, rec.Depth)
		}
	}
	if rec := findDownload(report, site.url("/a.html")); rec == nil || rec.Depth != 1 {
		t.Errorf("/a.html 记录 = %+v, want depth 1", rec)
	}
	if report.Verify == nil || report.Verify.MissingInScope != 1 {
		t.Errorf("Verify = %+v, want 1 in-scope missing", report.Verify)
	}
}

func TestCrawler_SkipExisting(t *testing.T) {
	site := smallSite(t)
	dir := t.TempDir()

	if _, err := mustCrawler(t, site.url("/"), testConfig(), dir).Crawl(context.Background()); err != nil {
		t.Fatalf("第一次 Crawl() error = %v", err)
	}

	report, err := mustCrawler(t, site.url("/"), testConfig(), dir).Crawl(context.Background())
	if err != nil {
		t.Fatalf("第二次 Crawl() error = %v", err)
	}

	// 已重写的页面同样会被解析, 其中的本地链接指向已存在的文件
	if report.Stats.Downloaded != 0 || report.Stats.Skipped < 3 {
		t.Errorf("Downloaded = %d, Skipped = %d, want 0 / >=3", report.Stats.Downloaded, report.Stats.Skipped)
	}
	for _, path := range []string{"/", "/a.html", "/shared.css"} {
		if n := site.hitCount(path); n != 1 {
			t.Errorf("%s 请求次数 = %d, want 1", path, n)
		}
	}
	if n := site.hitCount("/index.html"); n != 0 {
		t.Errorf("/index.html 不应被请求, 实际 %d 次", n)
	}
	for _, rec := range report.Downloads {
		if !rec.Skipped || rec.Attempts != 0 {
			t.Errorf("跳过记录 = %+v", rec)
		}
	}

	// 强制重新下载
	config := testConfig()
	config.ForceRedownload = true
	report, err = mustCrawler(t, site.url("/"), config, dir).Crawl(context.Background())
	if err != nil {
		t.Fatalf("第三次 Crawl() error = %v", err)
	}
	if report.Stats.Downloaded != 3 || site.hitCount("/") != 2 {
		t.Errorf("ForceRedownload: Downloaded = %d, 入口请求次数 = %d", report.Stats.Downloaded, site.hitCount("/"))
	}
}

// 重定向与按Content-Type分类后的实际文件路径无法从请求URL推断, 需要依据上次运行的清单
func TestCrawler_SkipExistingByManifest(t *testing.T) {
	site := newTestSite(t, map[string]page{
		"/":      {contentType: "text/html", body: `<img src="/logo"><a href="/docs">docs</a>`},
		"/logo":  {contentType: "image/png", body: "\x89PNG"},
		"/docs/": {contentType: "text/html", body: `<p>docs</p>`},
	}, map[string]http.Handler{"/docs": http.RedirectHandler("/docs/", http.StatusMovedPermanently)})
	dir := t.TempDir()

	first, err := mustCrawler(t, site.url("/"), testConfig(), dir).Crawl(context.Background())
	if err != nil {
		t.Fatalf("第一次 Crawl() error = %v", err)
	}

	tests := []struct {
		name string
		url  string
		path string
	}{
		{name: "无扩展名的图片", url: "/logo", path: "/logo"},
		{name: "重定向到目录", url: "/docs", path: "/docs/"},
	}

	firstPaths := make(map[string]string)
	for _, tt := range tests {
		rec := findDownload(first, site.url(tt.url))
		if rec == nil || rec.Skipped {
			t.Fatalf("第一次运行缺少 %s 的下载记录: %+v", tt.url, rec)
		}
		firstPaths[tt.url] = rec.LocalPath
	}

	second, err := mustCrawler(t, site.url("/"), testConfig(), dir).Crawl(context.Background())
	if err != nil {
		t.Fatalf("第二次 Crawl() error = %v", err)
	}
	if second.Stats.Downloaded != 0 {
		t.Errorf("第二次运行 Downloaded = %d, want 0", second.Stats.Downloaded)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n := site.hitCount(tt.path); n != 1 {
				t.Errorf("%s 请求次数 = %d, want 1", tt.path, n)
			}
			rec := findDownload(second, site.url(tt.url))
			if rec == nil {
				t.Fatalf("第二次运行缺少 %s 的记录", tt.url)
			}
			if !rec.Skipped || rec.LocalPath != firstPaths[tt.url] {
				t.Errorf("跳过记录 = %+v, want Skipped 且路径为 %s", rec, firstPaths[tt.url])
			}
		})
	}

	// 清单中的最终URL仍然生效, 重写后的链接指向实际文件
	index, _ := os.ReadFile(filepath.Join(dir, "index.html"))
	if !strings.Contains(string(index), `href="`+firstPaths["/docs"]+`"`) {
		t.Errorf("入口页面应链接到 %s:\n%s", firstPaths["/docs"], index)
	}
}

func TestCrawler_Robots(t *testing.T) {
	site := newTestSite(t, map[string]page{
		"/robots.txt":     {contentType: "text/plain", body: "User-agent: *\nDisallow: /private/\n"},
		"/":               {contentType: "text/html", body: `<a href="/private/x.html">p</a><a href="/public.html">q</a>`},
		"/public.html":    {contentType: "text/html", body: `ok`},
		"/private/x.html": {contentType: "text/html", body: `secret`},
	})

	config := testConfig()
	config.IgnoreRobots = false

	report, err := mustCrawler(t, site.url("/"), config, t.TempDir()).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	if site.hitCount("/private/x.html") != 0 {
		t.Error("robots禁止的URL不应被请求")
	}
	if len(report.Failures) != 1 || report.Failures[0].Attempts != 0 || report.Failures[0].Kind != models.ErrPermanent {
		t.Errorf("Failures = %+v", report.Failures)
	}
	if findDownload(report, site.url("/public.html")) == nil {
		t.Error("缺少 /public.html 下载记录")
	}
}

func TestCrawler_Redirect(t *testing.T) {
	site := newTestSite(t, map[string]page{
		"/":         {contentType: "text/html", body: `<a href="/old">old</a>`},
		"/new.html": {contentType: "text/html", body: `new`},
	}, map[string]http.Handler{"/old": http.RedirectHandler("/new.html", http.StatusMovedPermanently)})

	dir := t.TempDir()
	report, err := mustCrawler(t, site.url("/"), testConfig(), dir).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	rec := findDownload(report, site.url("/old"))
	if rec == nil {
		t.Fatal("缺少 /old 下载记录")
	}
	if rec.FinalURL != site.url("/new.html") || rec.LocalPath != "new.html" {
		t.Errorf("重定向记录 = %+v", rec)
	}

	index, _ := os.ReadFile(filepath.Join(dir, "index.html"))
	if !strings.Contains(string(index), `href="new.html"`) {
		t.Errorf("重定向前的链接应指向最终文件:\n%s", index)
	}
}

func TestCrawler_BaseUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL + "/"
	server.Close()

	config := testConfig()
	config.MaxRetries = 1

	_, err := mustCrawler(t, target, config, t.TempDir()).Crawl(context.Background())
	if !errors.Is(err, models.ErrBaseUnreachable) {
		t.Errorf("Crawl() error = %v, want ErrBaseUnreachable", err)
	}
}

func TestCrawler_Canceled(t *testing.T) {
	body := `<html><body>`
	pages := map[string]page{}
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/p%d.html", i)
		body += fmt.Sprintf(`<a href="%s">%d</a>`, path, i)
		pages[path] = page{contentType: "text/html", body: "page"}
	}
	pages["/"] = page{contentType: "text/html", body: body + `</body></html>`}
	site := newTestSite(t, pages)

	config := testConfig()
	config.MaxWorkers = 1
	config.Delay = 0.2

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crawler := mustCrawler(t, site.url("/"), config, dir, WithProgress(func(p Progress) {
		if p.Outcome.Entry.Depth == 0 {
			cancel()
		}
	}))

	report, err := crawler.Crawl(ctx)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if report.Stats.Terminal() >= 6 {
		t.Errorf("取消后仍处理了全部 %d 个URL", report.Stats.Terminal())
	}
	if _, err := os.Stat(filepath.Join(dir, utils.ReportFileName)); err != nil {
		t.Errorf("取消后应仍然生成报告: %v", err)
	}
}

func TestNewCrawler_ConfigError(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		mutate func(*models.CrawlConfig)
	}{
		{"并发数为0", "https://example.com/", func(c *models.CrawlConfig) { c.MaxWorkers = 0 }},
		{"负的间隔", "https://example.com/", func(c *models.CrawlConfig) { c.Delay = -1 }},
		{"深度越界", "https://example.com/", func(c *models.CrawlConfig) { c.MaxDepth = -1 }},
		{"非http协议", "ftp://example.com/", func(c *models.CrawlConfig) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(&config)

			_, err := NewCrawler(tt.url, config, t.TempDir())
			var ce *models.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("NewCrawler() error = %v, want *models.ConfigError", err)
			}
		})
	}
}

func TestCrawler_Headers(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Token")+"|"+r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	config := testConfig()
	config.UserAgent = "MirrorBot/1.0"

	hm, err := NewHeaderManager(config.UserAgent, map[string]string{"X-Token": "from-config"}, []string{"X-Token: from-cli"})
	if err != nil {
		t.Fatalf("NewHeaderManager() error = %v", err)
	}

	if _, err := mustCrawler(t, server.URL+"/", config, t.TempDir(), WithHeaderProvider(hm)).Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 || got[0] != "from-cli|MirrorBot/1.0" {
		t.Errorf("请求头部 = %v, want from-cli|MirrorBot/1.0", got)
	}
}

func mustCrawler(t *testing.T, target string, config models.CrawlConfig, dir string, opts ...Option) *Crawler {
	t.Helper()
	crawler, err := NewCrawler(target, config, dir, opts...)
	if err != nil {
		t.Fatalf("NewCrawler() error = %v", err)
	}
	return crawler
}
