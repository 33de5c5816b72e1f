package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/core"
	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	validateConfig bool     // 验证配置文件

	// 镜像参数
	targetURL         string
	urlFile           string
	delay             float64
	depth             int
	maxWorkers        int
	timeout           int
	maxRetries        int
	verifySSL         bool
	includeSubdomains bool
	forceRedownload   bool
	ignoreRobots      bool
	userAgent         string
	outputDir         string
	noRewrite         bool
	noVerify          bool

	// 批量处理参数
	batchDelay      int
	continueOnError bool
)

// appConfig PersistentPreRunE 中加载的配置
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "sitemirror",
	Short: "网站离线镜像工具",
	Long: `sitemirror - 并发网站镜像工具

从入口URL开始抓取同站点的页面和资源, 保存到本地目录并改写为本地链接:
  • 固定数量的worker并发抓取, 全局请求间隔
  • 瞬时错误指数退避重试
  • 遵守robots.txt (可关闭)
  • 已存在的文件跳过 (--force 强制重新下载)
  • 完整性校验, 报告缺失的引用
  • 批量URL处理
  • 自定义HTTP请求头

示例:
  sitemirror -u https://example.com -o mirror
  sitemirror -u https://example.com --workers 4 --delay 0.5 -d 3
  sitemirror -f urls.txt --batch-delay 5
  sitemirror -u https://example.com -H "Authorization: Bearer token"
  sitemirror --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = config

		// 初始化日志系统
		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		} else if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if config.ConfigFile != "" {
			utils.Debugf("使用配置文件: %s", config.ConfigFile)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}

		return nil
	},
	RunE: runMirror,
}

// runMirror 根命令: 镜像单个站点或批量镜像
func runMirror(cmd *cobra.Command, args []string) error {
	// Ctrl+C 或 SIGTERM 取消运行, 已完成的部分仍然生成报告
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig.MergeCLIFlags(collectOverrides(cmd))

	// 创建HTTP头部管理器
	headerManager, err := core.NewHeaderManager(appConfig.Crawl.UserAgent, appConfig.Headers, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	// 如果用户请求验证配置
	if validateConfig {
		return printValidation(headerManager)
	}

	// 如果没有提供任何参数,显示帮助信息
	if targetURL == "" && urlFile == "" {
		return cmd.Help()
	}

	// 验证参数
	if err := ValidateFlags(targetURL, urlFile, batchDelay); err != nil {
		return err
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	options := []core.Option{
		core.WithHeaderProvider(headerManager),
		core.WithRewrite(appConfig.Output.RewriteLinks),
		core.WithVerify(appConfig.Output.Verify),
		core.WithManifest(appConfig.Output.Manifest),
		core.WithMetrics(appConfig.Output.Metrics),
	}

	var bar *progressbar.ProgressBar
	if !verbose {
		bar = utils.NewProgressBar(-1, "镜像中")
		options = append(options, core.WithProgress(progressHook(bar)))
		defer bar.Finish()
	}

	// 检查是否为批量处理模式
	if urlFile != "" {
		urls, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return fmt.Errorf("读取URL文件失败: %w", err)
		}

		batchCrawler := core.NewBatchCrawler(
			appConfig.Crawl,
			appConfig.Output.BaseDir,
			time.Duration(batchDelay)*time.Second,
			continueOnError,
			options...,
		)

		if _, err := batchCrawler.CrawlBatch(ctx, urls); err != nil {
			return fmt.Errorf("批量镜像失败: %w", err)
		}

		utils.Info("✨ 批量镜像任务完成!")
		return nil
	}

	// 单URL镜像模式
	normalized, err := NormalizeURL(targetURL)
	if err != nil {
		return fmt.Errorf("无效的目标URL: %w", err)
	}

	crawler, err := core.NewCrawler(normalized, appConfig.Crawl, appConfig.Output.BaseDir, options...)
	if err != nil {
		return fmt.Errorf("创建镜像器失败: %w", err)
	}

	report, err := crawler.Crawl(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("镜像失败: %w", err)
	}

	printStats(report)

	if ctx.Err() != nil {
		utils.Warn("⚠️ 镜像任务被中断, 结果不完整")
		return nil
	}
	utils.Info("✨ 镜像任务完成!")
	return nil
}

// collectOverrides 收集命令行中显式设置的参数
func collectOverrides(cmd *cobra.Command) core.CLIOverrides {
	var o core.CLIOverrides
	flags := cmd.Flags()

	if flags.Changed("delay") {
		o.Delay = &delay
	}
	if flags.Changed("depth") {
		o.MaxDepth = &depth
	}
	if flags.Changed("workers") {
		o.MaxWorkers = &maxWorkers
	}
	if flags.Changed("timeout") {
		o.Timeout = &timeout
	}
	if flags.Changed("retries") {
		o.MaxRetries = &maxRetries
	}
	if flags.Changed("verify-ssl") {
		o.VerifySSL = &verifySSL
	}
	if flags.Changed("include-subdomains") {
		o.IncludeSubdomains = &includeSubdomains
	}
	if flags.Changed("force") {
		o.ForceRedownload = &forceRedownload
	}
	if flags.Changed("ignore-robots") {
		o.IgnoreRobots = &ignoreRobots
	}
	if flags.Changed("user-agent") {
		o.UserAgent = &userAgent
	}
	if flags.Changed("output") {
		o.OutputDir = &outputDir
	}
	if flags.Changed("no-rewrite") {
		o.NoRewrite = &noRewrite
	}
	if flags.Changed("no-verify") {
		o.NoVerify = &noVerify
	}
	return o
}

// progressHook 把每个终态结果反映到进度条上
// 总数随发现的新URL增长
func progressHook(bar *progressbar.ProgressBar) func(core.Progress) {
	return func(p core.Progress) {
		bar.ChangeMax(p.Done + p.Pending)
		_ = bar.Set(p.Done)
	}
}

// printValidation 打印配置验证结果
func printValidation(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	// 显示合并后的头部(脱敏)
	safeHeaders := headerManager.GetSafeHeaders()
	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	utils.Info("✅ 配置验证通过!")
	if appConfig.ConfigFile != "" {
		utils.Infof("配置文件: %s", appConfig.ConfigFile)
	}
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safeHeaders[name])
	}
	return nil
}

// printStats 显示统计结果
func printStats(report *models.CrawlReport) {
	stats := report.Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 镜像统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 下载文件: %s\n", humanize.Comma(int64(stats.Downloaded)))
	for _, kind := range models.AllAssetKinds {
		if n := stats.ByKind[kind]; n > 0 {
			fmt.Printf("   %-10s %s\n", kind, humanize.Comma(int64(n)))
		}
	}
	fmt.Printf("⏭️  跳过文件: %s\n", humanize.Comma(int64(stats.Skipped)))
	fmt.Printf("❌ 失败文件: %s\n", humanize.Comma(int64(stats.Failed)))
	fmt.Printf("🔁 重试次数: %d\n", stats.Retries)
	fmt.Printf("🔗 重写文件: %d\n", stats.Rewritten)
	if report.Verify != nil {
		fmt.Printf("🔍 缺失引用: %d (站内 %d)\n", stats.Missing, report.Verify.MissingInScope)
	}
	fmt.Printf("📦 总大小: %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Elapsed)
	fmt.Printf("📁 输出目录: %s\n", report.OutputDir)
	fmt.Println("==================================================")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sitemirror %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	defaults := models.DefaultCrawlConfig()

	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式 (debug日志, 不显示进度条)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 镜像参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	rootCmd.Flags().Float64Var(&delay, "delay", defaults.Delay, "两次请求之间的最小间隔(秒)")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", defaults.MaxDepth, "最大链接深度 (0-100)")
	rootCmd.Flags().IntVar(&maxWorkers, "workers", defaults.MaxWorkers, "并发worker数量 (1-100)")
	rootCmd.Flags().IntVar(&timeout, "timeout", int(defaults.Timeout/time.Second), "单次请求超时(秒)")
	rootCmd.Flags().IntVar(&maxRetries, "retries", defaults.MaxRetries, "瞬时错误最大重试次数")
	rootCmd.Flags().BoolVar(&verifySSL, "verify-ssl", defaults.VerifySSL, "校验TLS证书")
	rootCmd.Flags().BoolVar(&includeSubdomains, "include-subdomains", defaults.IncludeSubdomains, "同时镜像子域名")
	rootCmd.Flags().BoolVar(&forceRedownload, "force", defaults.ForceRedownload, "强制重新下载已存在的文件")
	rootCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", defaults.IgnoreRobots, "忽略robots.txt")
	rootCmd.Flags().StringVar(&userAgent, "user-agent", defaults.UserAgent, "User-Agent")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")
	rootCmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "不重写本地链接")
	rootCmd.Flags().BoolVar(&noVerify, "no-verify", false, "不执行完整性校验")

	// 批量处理参数
	rootCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理URL间延迟(秒)")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)

		var configErr *models.ConfigError
		if errors.As(err, &configErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
