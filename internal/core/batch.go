package core

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/RecoveryAshes/sitemirror/internal/utils"
)

// BatchCrawler 批量镜像器
// 依次镜像多个站点, 每个站点写入 <output>/<host>/
type BatchCrawler struct {
	config        models.CrawlConfig
	outputDir     string
	batchDelay    time.Duration
	continueOnErr bool
	options       []Option
}

// BatchResult 单个站点的镜像结果
type BatchResult struct {
	URL         string
	OutputDir   string
	Success     bool
	Error       error
	Stats       models.RunStatistics
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量镜像摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	TotalFiles    int
	TotalSize     int64
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchCrawler 创建批量镜像器
// options 原样传给每个站点的 Crawler
func NewBatchCrawler(config models.CrawlConfig, outputDir string, batchDelay time.Duration, continueOnErr bool, options ...Option) *BatchCrawler {
	return &BatchCrawler{
		config:        config,
		outputDir:     outputDir,
		batchDelay:    batchDelay,
		continueOnErr: continueOnErr,
		options:       options,
	}
}

// CrawlBatch 批量镜像URL列表
// ctx取消时当前站点按正常中断流程结束, 剩余站点不再处理
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, urls []string) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量镜像: %d个URL", len(urls))

	summary := &BatchSummary{
		TotalURLs: len(urls),
		Results:   make([]BatchResult, 0, len(urls)),
	}

	startTime := time.Now()

	for i, targetURL := range urls {
		if ctx.Err() != nil {
			utils.Warnf("批量镜像已中断, 剩余 %d 个URL未处理", len(urls)-i)
			break
		}

		utils.Infof("==================== [%d/%d] ====================", i+1, len(urls))
		utils.Infof("目标URL: %s", targetURL)

		// 执行单个站点镜像
		result := bc.crawlSingleURL(ctx, targetURL)
		summary.Results = append(summary.Results, result)

		// 更新统计
		if result.Success {
			summary.SuccessCount++
			summary.TotalFiles += result.Stats.Downloaded + result.Stats.Skipped
			summary.TotalSize += result.Stats.TotalBytes
		} else {
			summary.FailCount++
			utils.Errorf("❌ 镜像失败: %v", result.Error)

			// 如果不继续处理错误,则停止
			if !bc.continueOnErr {
				utils.Warn("批量镜像中止 (--continue-on-error=false)")
				break
			}
		}

		// 批量延迟(最后一个URL不需要延迟)
		if i < len(urls)-1 && bc.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个URL...", bc.batchDelay.Seconds())
			select {
			case <-ctx.Done():
			case <-time.After(bc.batchDelay):
			}
		}
	}

	summary.TotalDuration = time.Since(startTime).Seconds()

	// 显示批量镜像摘要
	bc.printSummary(summary)

	if summary.FailCount > 0 && !bc.continueOnErr {
		return summary, fmt.Errorf("批量镜像中止: %w", summary.firstError())
	}
	return summary, nil
}

// crawlSingleURL 镜像单个站点
func (bc *BatchCrawler) crawlSingleURL(ctx context.Context, targetURL string) BatchResult {
	result := BatchResult{
		URL:         targetURL,
		OutputDir:   siteOutputDir(bc.outputDir, targetURL),
		ProcessedAt: time.Now(),
	}

	startTime := time.Now()

	// 创建镜像器
	crawler, err := NewCrawler(targetURL, bc.config, result.OutputDir, bc.options...)
	if err != nil {
		result.Error = fmt.Errorf("创建镜像器失败: %w", err)
		result.Duration = time.Since(startTime).Seconds()
		return result
	}

	// 执行镜像
	report, err := crawler.Crawl(ctx)
	if err != nil {
		result.Error = fmt.Errorf("镜像失败: %w", err)
		result.Duration = time.Since(startTime).Seconds()
		return result
	}

	result.Success = true
	result.Stats = report.Stats
	result.Duration = time.Since(startTime).Seconds()
	return result
}

// siteOutputDir 站点输出目录 <output>/<host>, 端口中的冒号替换为下划线
func siteOutputDir(outputDir, targetURL string) string {
	host := "unknown"
	if u, err := url.Parse(targetURL); err == nil && u.Host != "" {
		host = strings.ReplaceAll(strings.ToLower(u.Host), ":", "_")
	}
	return filepath.Join(outputDir, host)
}

// firstError 第一个失败站点的错误
func (s *BatchSummary) firstError() error {
	for _, r := range s.Results {
		if !r.Success {
			return r.Error
		}
	}
	return nil
}

// printSummary 打印批量镜像摘要
func (bc *BatchCrawler) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量镜像摘要")
	utils.Info("==================================================")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📦 总文件数: %d", summary.TotalFiles)
	utils.Infof("📦 总大小: %.2f MB", float64(summary.TotalSize)/(1024*1024))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	// 显示失败的URL
	if summary.FailCount > 0 {
		utils.Warn("失败的URL:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.URL, result.Error)
			}
		}
	}
}
