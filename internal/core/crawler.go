package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/crawlers"
	"github.com/RecoveryAshes/sitemirror/internal/manifest"
	"github.com/RecoveryAshes/sitemirror/internal/metrics"
	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
)

// memorySampleInterval 内存采样间隔
const memorySampleInterval = 2 * time.Second

// Progress 每个URL到达终态后通知的进度
type Progress struct {
	Outcome crawlers.Outcome

	// Done 已到达终态的URL数量
	Done int

	// Pending 排队中与处理中的URL数量
	Pending int
}

// Option Crawler可选项
type Option func(*Crawler)

// WithFetcher 替换默认的Colly抓取器
func WithFetcher(f crawlers.Fetcher) Option {
	return func(c *Crawler) { c.fetcher = f }
}

// WithHeaderProvider 设置请求头部提供者
func WithHeaderProvider(hp models.HeaderProvider) Option {
	return func(c *Crawler) { c.headerProvider = hp }
}

// WithProgress 每个URL到达终态后回调, 在单一goroutine中顺序调用
func WithProgress(fn func(Progress)) Option {
	return func(c *Crawler) { c.onProgress = fn }
}

// WithRewrite 是否在运行结束后重写本地链接
func WithRewrite(enabled bool) Option {
	return func(c *Crawler) { c.rewrite = enabled }
}

// WithVerify 是否在运行结束后校验完整性
func WithVerify(enabled bool) Option {
	return func(c *Crawler) { c.verify = enabled }
}

// WithManifest 是否写入 manifest.db
func WithManifest(enabled bool) Option {
	return func(c *Crawler) { c.manifest = enabled }
}

// WithMetrics 是否写入 metrics.prom
func WithMetrics(enabled bool) Option {
	return func(c *Crawler) { c.metrics = enabled }
}

// Crawler 镜像编排器
// 驱动前沿队列与worker池直到队列关闭, 然后重写链接、校验完整性并生成报告。
// 运行统计只由结果消费者一个goroutine写入
type Crawler struct {
	config    models.CrawlConfig
	baseURL   string
	outputDir string
	runID     string

	fetcher        crawlers.Fetcher
	headerProvider models.HeaderProvider
	onProgress     func(Progress)

	rewrite  bool
	verify   bool
	manifest bool
	metrics  bool

	mu        sync.RWMutex
	stats     models.RunStatistics
	downloads []models.DownloadRecord
	failures  []models.FailureRecord
}

// mirrorRun 单次运行期间的组件
type mirrorRun struct {
	scope     *crawlers.Scope
	frontier  *crawlers.Frontier
	storage   *crawlers.Storage
	executor  *crawlers.Executor
	robots    *crawlers.RobotsPolicy
	collector *metrics.Collector

	// previous 上次运行清单中的下载记录, 用于跳过已存在的文件
	previous map[string]models.DownloadRecord
}

// NewCrawler 创建镜像编排器
// 配置或入口URL无效时返回 *models.ConfigError, 此时不会发出任何请求
func NewCrawler(targetURL string, config models.CrawlConfig, outputDir string, opts ...Option) (*Crawler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateURL(targetURL); err != nil {
		return nil, models.NewConfigError("url", err)
	}
	baseURL, err := crawlers.Canonicalize(targetURL, "")
	if err != nil {
		return nil, models.NewConfigError("url", err)
	}
	if outputDir == "" {
		return nil, models.NewConfigError("output", fmt.Errorf("输出目录不能为空"))
	}

	c := &Crawler{
		config:    config,
		baseURL:   baseURL,
		outputDir: outputDir,
		runID:     models.NewRunID(),
		rewrite:   true,
		verify:    true,
		manifest:  true,
		metrics:   true,
		stats:     models.NewRunStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Crawl 执行镜像任务
// 执行流程:
//  1. 创建输出目录与运行组件, 读取robots的crawl-delay
//  2. 以深度0登记入口URL, 启动worker池直到前沿队列关闭
//  3. 重写本地链接并校验完整性
//  4. 写入 download_report.json、summary.md、manifest.db、metrics.prom
//
// ctx取消时停止接收新URL, 丢弃排队项, 处理中的请求自然结束后仍然生成报告。
// 入口URL完全无法访问时返回 models.ErrBaseUnreachable
func (c *Crawler) Crawl(ctx context.Context) (*models.CrawlReport, error) {
	startTime := time.Now()
	defer utils.WithRun(c.runID, c.baseURL)()

	utils.Infof("🚀 开始镜像任务")
	utils.Infof("目标URL: %s", c.baseURL)
	utils.Infof("输出目录: %s", c.outputDir)
	utils.Infof("运行ID: %s", c.runID)

	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	run, err := c.setup(ctx)
	if err != nil {
		return nil, err
	}

	if !run.frontier.TryEnqueue(c.baseURL, 0, "") {
		return nil, models.NewConfigError("url", fmt.Errorf("入口URL无法登记: %s", c.baseURL))
	}

	sampler := crawlers.NewMemorySampler(memorySampleInterval)
	sampler.Start(ctx)

	stopWatching := context.AfterFunc(ctx, func() {
		utils.Warn("⚠️ 收到停止信号, 不再接收新URL, 等待处理中的请求完成...")
		run.frontier.Stop()
	})
	defer stopWatching()

	c.traverse(ctx, run)

	sample := sampler.Stop()
	cancelled := run.frontier.Stopped()

	if err := c.baseFailure(); err != nil {
		utils.Errorf("❌ 入口URL无法访问: %v", err)
		return nil, err
	}

	report := c.finish(ctx, run, startTime, sample)
	if cancelled {
		utils.Warnf("⚠️ 镜像任务被中断, 已生成部分结果的报告")
	}
	return report, nil
}

// setup 创建单次运行的组件
func (c *Crawler) setup(ctx context.Context) (*mirrorRun, error) {
	scope, err := crawlers.NewScope(c.baseURL, c.config.IncludeSubdomains)
	if err != nil {
		return nil, models.NewConfigError("url", err)
	}

	fetcher := c.fetcher
	if fetcher == nil {
		fetcher = crawlers.NewStaticFetcher(c.config, c.headerProvider)
	}

	pacer := crawlers.NewPacer(c.config.PacingInterval())
	run := &mirrorRun{
		scope:    scope,
		frontier: crawlers.NewFrontier(scope, c.config.MaxDepth),
		storage:  crawlers.NewStorage(c.outputDir, scope.BaseHost()),
		executor: crawlers.NewExecutor(fetcher, pacer, crawlers.NewRetryPolicy(c.config)),
	}
	if c.metrics {
		run.collector = metrics.NewCollector(c.baseURL)
	}
	if !c.config.ForceRedownload {
		previous, err := manifest.LoadDownloads(ctx, c.outputDir)
		if err != nil {
			utils.Warnf("读取上次运行的清单失败: %v", err)
		} else if len(previous) > 0 {
			run.previous = previous
			utils.Debugf("上次运行的清单中有 %d 条下载记录", len(previous))
		}
	}

	if c.config.IgnoreRobots {
		utils.Warnf("已忽略robots.txt")
	} else {
		run.robots = crawlers.NewRobotsPolicy(fetcher, c.config.UserAgent)
		if delay := run.robots.CrawlDelay(ctx, c.baseURL); pacer.Raise(delay) {
			utils.Infof("🐢 robots.txt要求的抓取间隔(%v)大于配置值, 已调整", delay)
		}
	}

	utils.Infof("并发数: %d, 请求间隔: %v, 最大深度: %d", c.config.MaxWorkers, pacer.Interval(), c.config.MaxDepth)
	return run, nil
}

// traverse 运行worker池直到前沿队列关闭
// worker只负责抓取与写盘, 结果经由channel交给唯一的消费者登记
func (c *Crawler) traverse(ctx context.Context, run *mirrorRun) {
	outcomes := make(chan crawlers.Outcome, c.config.MaxWorkers*2)
	consumerDone := make(chan struct{})

	go func() {
		defer close(consumerDone)
		for outcome := range outcomes {
			c.record(run, outcome)
		}
	}()

	pool := crawlers.NewPool(c.config.MaxWorkers)
	// 处理中的请求不因取消而中断, 取消只作用于前沿队列
	workCtx := context.WithoutCancel(ctx)
	if err := pool.Run(workCtx, run.frontier, func(ctx context.Context, entry models.CrawlEntry) {
		outcomes <- c.process(ctx, run, entry)
	}); err != nil {
		utils.Warnf("worker池异常退出: %v", err)
	}

	close(outcomes)
	<-consumerDone
}

// process 处理单个URL: robots检查 → 跳过已存在 → 抓取 → 写盘 → 提取子链接
func (c *Crawler) process(ctx context.Context, run *mirrorRun, entry models.CrawlEntry) crawlers.Outcome {
	if run.robots != nil && !run.robots.CanFetch(ctx, entry.URL) {
		utils.Debugf("robots.txt禁止: %s", entry.URL)
		err := &models.FetchError{URL: entry.URL, Kind: models.ErrPermanent, Cause: errors.New("robots.txt禁止访问")}
		return failureOutcome(entry, err, 0, 0)
	}

	if !c.config.ForceRedownload {
		if existing, ok := c.existingFile(run, entry); ok {
			return c.reuseExisting(run, entry, existing)
		}
	}

	result, attempts, err := run.executor.Execute(ctx, entry.URL)
	if err != nil {
		status := 0
		if result != nil {
			status = result.StatusCode
		}
		return failureOutcome(entry, err, attempts, status)
	}

	finalURL := entry.URL
	if result.FinalURL != "" {
		if canonical, err := crawlers.Canonicalize(result.FinalURL, ""); err == nil {
			finalURL = canonical
		}
	}
	if finalURL != entry.URL {
		utils.Debugf("重定向: %s -> %s", entry.URL, finalURL)
		run.frontier.RecordAlias(entry.URL, finalURL)
	}

	kind := crawlers.Classify(finalURL, result.ContentType)
	rel, err := run.storage.LocalPath(finalURL, kind)
	if err != nil {
		fsErr := &models.FetchError{URL: entry.URL, Kind: models.ErrFilesystem, Cause: err}
		return failureOutcome(entry, fsErr, attempts, result.StatusCode)
	}
	if err := run.storage.Write(entry.URL, rel, result.Body); err != nil {
		return failureOutcome(entry, err, attempts, result.StatusCode)
	}

	if kind.Rewritable() {
		c.enqueueChildren(run, entry, result.Body, kind, finalURL)
	}

	return crawlers.Outcome{
		Entry: entry,
		Download: &models.DownloadRecord{
			URL:         entry.URL,
			FinalURL:    finalURL,
			LocalPath:   rel,
			Size:        int64(len(result.Body)),
			Kind:        kind,
			ContentType: result.ContentType,
			Attempts:    attempts,
			Depth:       entry.Depth,
			FetchedAt:   time.Now(),
		},
	}
}

// existingFile 查找URL已存在的本地文件
// 优先使用上次运行清单中的实际路径(已考虑重定向与按Content-Type分类), 否则按URL推断
func (c *Crawler) existingFile(run *mirrorRun, entry models.CrawlEntry) (models.DownloadRecord, bool) {
	if prev, ok := run.previous[entry.URL]; ok && prev.LocalPath != "" &&
		filepath.IsLocal(filepath.FromSlash(prev.LocalPath)) && run.storage.Exists(prev.LocalPath) {
		if prev.Kind == "" {
			prev.Kind = crawlers.ClassifyURL(entry.URL)
		}
		if prev.FinalURL == "" {
			prev.FinalURL = entry.URL
		}
		return prev, true
	}

	kind := crawlers.ClassifyURL(entry.URL)
	rel, err := run.storage.LocalPath(entry.URL, kind)
	if err != nil || !run.storage.Exists(rel) {
		return models.DownloadRecord{}, false
	}
	return models.DownloadRecord{URL: entry.URL, FinalURL: entry.URL, LocalPath: rel, Kind: kind}, true
}

// reuseExisting 本地文件已存在时不重新下载, html/css仍然提取子链接
func (c *Crawler) reuseExisting(run *mirrorRun, entry models.CrawlEntry, existing models.DownloadRecord) crawlers.Outcome {
	rel := existing.LocalPath

	var size int64
	if info, err := os.Stat(run.storage.Abs(rel)); err == nil {
		size = info.Size()
	}

	if existing.FinalURL != entry.URL {
		run.frontier.RecordAlias(entry.URL, existing.FinalURL)
	}

	if existing.Kind.Rewritable() {
		content, err := run.storage.Read(rel)
		if err != nil {
			utils.Warnf("读取已存在的文件失败 [%s]: %v", rel, err)
		} else {
			c.enqueueChildren(run, entry, content, existing.Kind, existing.FinalURL)
		}
	}

	utils.Debugf("⏭️ 已存在, 跳过: %s -> %s", entry.URL, rel)
	return crawlers.Outcome{
		Entry: entry,
		Download: &models.DownloadRecord{
			URL:         entry.URL,
			FinalURL:    existing.FinalURL,
			LocalPath:   rel,
			Size:        size,
			Kind:        existing.Kind,
			ContentType: existing.ContentType,
			Depth:       entry.Depth,
			Skipped:     true,
			FetchedAt:   time.Now(),
		},
	}
}

// enqueueChildren 提取引用并以 depth+1 登记
// 解析失败只记录日志, 已写入的文件保留
func (c *Crawler) enqueueChildren(run *mirrorRun, entry models.CrawlEntry, content []byte, kind models.AssetKind, baseURL string) {
	links, err := crawlers.ExtractLinks(content, kind, baseURL)
	if err != nil {
		utils.Warnf("提取链接失败 [%s]: %v", entry.URL, err)
		return
	}

	added := 0
	for _, link := range links {
		if run.frontier.TryEnqueue(link, entry.Depth+1, entry.URL) {
			added++
		}
	}
	utils.Debugf("🔗 %s: 发现 %d 个引用, 新登记 %d 个", entry.URL, len(links), added)
}

// failureOutcome 构造失败结果
func failureOutcome(entry models.CrawlEntry, err error, attempts int, status int) crawlers.Outcome {
	var fe *models.FetchError
	if errors.As(err, &fe) && fe.StatusCode > 0 {
		status = fe.StatusCode
	}
	return crawlers.Outcome{
		Entry: entry,
		Failure: &models.FailureRecord{
			URL:        entry.URL,
			Kind:       models.KindOf(err),
			StatusCode: status,
			ErrorMsg:   err.Error(),
			Attempts:   attempts,
			Depth:      entry.Depth,
		},
	}
}

// record 登记终态结果, 只在消费者goroutine中调用
func (c *Crawler) record(run *mirrorRun, outcome crawlers.Outcome) {
	c.mu.Lock()
	switch {
	case outcome.Download != nil:
		rec := *outcome.Download
		c.downloads = append(c.downloads, rec)
		if rec.Skipped {
			c.stats.Skipped++
		} else {
			c.stats.Downloaded++
			c.stats.TotalBytes += rec.Size
			c.stats.ByKind[rec.Kind]++
			c.countRetries(rec.Attempts)
			utils.Infof("✅ [%s] %s -> %s", rec.Kind, rec.URL, rec.LocalPath)
		}
	case outcome.Failure != nil:
		rec := *outcome.Failure
		c.failures = append(c.failures, rec)
		c.stats.Failed++
		c.countRetries(rec.Attempts)
		utils.Warnf("❌ [%s] %s (尝试%d次): %s", rec.Kind, rec.URL, rec.Attempts, rec.ErrorMsg)
	}
	done := c.stats.Terminal()
	c.mu.Unlock()

	if run.collector != nil {
		if outcome.Download != nil {
			run.collector.ObserveDownload(outcome.Download)
		} else if outcome.Failure != nil {
			run.collector.ObserveFailure(outcome.Failure)
		}
	}

	if err := run.frontier.MarkDone(outcome.Entry.URL, &outcome); err != nil {
		utils.Warnf("登记结果失败: %v", err)
	}

	if c.onProgress != nil {
		snap := run.frontier.Snapshot()
		c.onProgress(Progress{Outcome: outcome, Done: done, Pending: snap.Queued + snap.InFlight})
	}
}

// countRetries 累计重试次数, 调用方持有锁
func (c *Crawler) countRetries(attempts int) {
	if attempts < 1 {
		return
	}
	retries := attempts - 1
	c.stats.Retries += retries
	c.stats.RetryHistogram[retries]++
}

// baseFailure 入口URL在传输层就失败(没有任何HTTP响应)时返回错误
func (c *Crawler) baseFailure() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, f := range c.failures {
		if f.URL == c.baseURL && f.StatusCode == 0 && f.Attempts > 0 {
			return fmt.Errorf("%w: %s", models.ErrBaseUnreachable, f.ErrorMsg)
		}
	}
	return nil
}

// finish 链接重写、完整性校验与报告输出
// 后处理中的错误只记录日志, 不影响已下载的结果
func (c *Crawler) finish(ctx context.Context, run *mirrorRun, startTime time.Time, sample crawlers.MemorySample) *models.CrawlReport {
	c.mu.Lock()
	sort.Slice(c.downloads, func(i, j int) bool { return c.downloads[i].URL < c.downloads[j].URL })
	sort.Slice(c.failures, func(i, j int) bool { return c.failures[i].URL < c.failures[j].URL })
	downloads := append([]models.DownloadRecord(nil), c.downloads...)
	failures := append([]models.FailureRecord(nil), c.failures...)
	c.mu.Unlock()

	aliases := run.frontier.Aliases()
	index := crawlers.NewResourceIndex(downloads, failures, aliases)

	rewritten := 0
	if c.rewrite {
		utils.Infof("✏️ 开始重写本地链接...")
		n, err := crawlers.NewRewriter(run.storage, index).RewriteAll()
		if err != nil {
			utils.Warnf("部分文件重写失败: %v", err)
		}
		rewritten = n
		utils.Infof("✅ 链接重写完成: 修改了 %d 个文件", n)
	}

	var verify *models.VerifyReport
	if c.verify {
		utils.Infof("🔍 开始完整性校验...")
		v := crawlers.NewVerifier(run.storage, index, run.scope).Verify()
		verify = &v
		if v.Complete() {
			utils.Infof("✅ 完整性校验通过")
		} else {
			utils.Warnf("⚠️ 完整性校验: 缺失引用 %d (站内 %d, 站外 %d), 缺失文件 %d, 失效本地链接 %d",
				len(v.Missing), v.MissingInScope, v.MissingExternal, len(v.MissingFiles), len(v.BrokenLinks))
		}
	}

	endTime := time.Now()

	c.mu.Lock()
	c.stats.Rewritten = rewritten
	if verify != nil {
		c.stats.Missing = len(verify.Missing)
	}
	c.stats.Elapsed = endTime.Sub(startTime).Seconds()
	c.stats.PeakHeapBytes = sample.PeakHeapBytes
	c.stats.SystemMemUsed = sample.SystemMemUsed
	stats := c.stats
	c.mu.Unlock()

	report := &models.CrawlReport{
		RunID:     c.runID,
		BaseURL:   c.baseURL,
		OutputDir: c.outputDir,
		StartTime: startTime,
		EndTime:   endTime,
		Stats:     stats,
		Downloads: downloads,
		Failures:  failures,
		Verify:    verify,
		Config:    c.config,
	}

	c.writeOutputs(ctx, run, report, aliases)

	utils.Infof("✅ 镜像任务完成")
	utils.Infof("下载: %d, 跳过: %d, 失败: %d", stats.Downloaded, stats.Skipped, stats.Failed)
	utils.Infof("总耗时: %.2f秒", stats.Elapsed)
	return report
}

// writeOutputs 写入报告、清单与指标
func (c *Crawler) writeOutputs(ctx context.Context, run *mirrorRun, report *models.CrawlReport, aliases map[string]string) {
	reporter := utils.NewReporter(c.outputDir)
	if err := reporter.WriteJSON(report); err != nil {
		utils.Warnf("生成JSON报告失败: %v", err)
	}
	if err := reporter.WriteSummary(report); err != nil {
		utils.Warnf("生成摘要失败: %v", err)
	}

	if c.manifest {
		if err := c.writeManifest(context.WithoutCancel(ctx), report, aliases); err != nil {
			utils.Warnf("写入清单失败: %v", err)
		}
	}

	if run.collector != nil {
		run.collector.ObserveRun(report.Stats, report.Verify)
		if err := run.collector.WriteFile(c.outputDir); err != nil {
			utils.Warnf("%v", err)
		}
	}

	utils.Infof("📄 报告已生成: %s", c.outputDir)
}

// writeManifest 写入 manifest.db
func (c *Crawler) writeManifest(ctx context.Context, report *models.CrawlReport, aliases map[string]string) error {
	store, err := manifest.Open(c.outputDir, c.runID)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.RecordRun(ctx, report, aliases)
}

// GetStats 获取统计信息
func (c *Crawler) GetStats() models.RunStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// BaseURL 规范化后的入口URL
func (c *Crawler) BaseURL() string {
	return c.baseURL
}

// GetOutputDir 获取输出目录路径
func (c *Crawler) GetOutputDir() string {
	return c.outputDir
}
