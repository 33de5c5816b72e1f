// Package metrics 镜像运行的Prometheus指标
//
// 每次运行使用独立的Registry, 运行结束后以textfile格式写入输出根目录,
// 供node_exporter的textfile收集器读取。
package metrics

import (
	"fmt"
	"path/filepath"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// FileName 指标文件名
const FileName = "metrics.prom"

const namespace = "sitemirror"

// Collector 镜像运行指标
// 只由编排器的结果消费者调用, 但Prometheus指标本身并发安全
type Collector struct {
	registry *prometheus.Registry

	downloads    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	skipped      prometheus.Counter
	retries      prometheus.Counter
	bytes        *prometheus.CounterVec
	attempts     prometheus.Histogram
	resourceSize prometheus.Histogram
	rewritten    prometheus.Gauge
	missing      *prometheus.GaugeVec
	elapsed      prometheus.Gauge
}

// NewCollector 创建指标收集器, baseURL作为常量标签
func NewCollector(baseURL string) *Collector {
	labels := prometheus.Labels{"base_url": baseURL}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "downloads_total",
			Help:        "Resources stored, by asset kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "failures_total",
			Help:        "Resources that could not be mirrored, by error kind.",
			ConstLabels: labels,
		}, []string{"error_kind"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "skipped_total",
			Help:        "Resources already present on disk and not fetched again.",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "retries_total",
			Help:        "Fetch attempts beyond the first one.",
			ConstLabels: labels,
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "downloaded_bytes_total",
			Help:        "Bytes written to the mirror, by asset kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "fetch_attempts",
			Help:        "Attempts needed per fetched resource.",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 3, 4, 6, 11},
		}),
		resourceSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "resource_size_bytes",
			Help:        "Size of stored resources.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		rewritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "rewritten_files",
			Help:        "Files changed by link rewriting.",
			ConstLabels: labels,
		}),
		missing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "missing_references",
			Help:        "References neither downloaded nor recorded as failed.",
			ConstLabels: labels,
		}, []string{"scope"}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the mirror run.",
			ConstLabels: labels,
		}),
	}

	c.registry.MustRegister(
		c.downloads, c.failures, c.skipped, c.retries, c.bytes,
		c.attempts, c.resourceSize, c.rewritten, c.missing, c.elapsed,
	)
	return c
}

// Registry 指标注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveDownload 记录一次成功下载或跳过
func (c *Collector) ObserveDownload(rec *models.DownloadRecord) {
	if rec.Skipped {
		c.skipped.Inc()
		return
	}
	c.downloads.WithLabelValues(string(rec.Kind)).Inc()
	c.bytes.WithLabelValues(string(rec.Kind)).Add(float64(rec.Size))
	c.resourceSize.Observe(float64(rec.Size))
	c.observeAttempts(rec.Attempts)
}

// ObserveFailure 记录一次失败
func (c *Collector) ObserveFailure(rec *models.FailureRecord) {
	c.failures.WithLabelValues(string(rec.Kind)).Inc()
	c.observeAttempts(rec.Attempts)
}

// observeAttempts 请求次数与重试次数
func (c *Collector) observeAttempts(attempts int) {
	if attempts <= 0 {
		return
	}
	c.attempts.Observe(float64(attempts))
	if attempts > 1 {
		c.retries.Add(float64(attempts - 1))
	}
}

// ObserveRun 记录运行级别的结果
func (c *Collector) ObserveRun(stats models.RunStatistics, verify *models.VerifyReport) {
	c.rewritten.Set(float64(stats.Rewritten))
	c.elapsed.Set(stats.Elapsed)
	if verify != nil {
		c.missing.WithLabelValues("in_scope").Set(float64(verify.MissingInScope))
		c.missing.WithLabelValues("external").Set(float64(verify.MissingExternal))
	}
}

// WriteFile 以textfile格式写入 <dir>/metrics.prom
func (c *Collector) WriteFile(dir string) error {
	path := filepath.Join(dir, FileName)
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	return nil
}
