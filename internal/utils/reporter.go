package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/dustin/go-humanize"
	"github.com/nao1215/markdown"
	"github.com/schollz/progressbar/v3"
)

const (
	// ReportFileName 机器可读报告文件名
	ReportFileName = "download_report.json"

	// SummaryFileName 人类可读摘要文件名
	SummaryFileName = "summary.md"

	// summaryListLimit 摘要中每个列表最多展示的条目数, 完整列表见JSON报告
	summaryListLimit = 50
)

// Reporter 报告生成器
// 报告写在输出根目录下
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// WriteJSON 写入 download_report.json
func (r *Reporter) WriteJSON(report *models.CrawlReport) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}
	return r.saveJSONReport(ReportFileName, report)
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(filename string, data interface{}) error {
	path := filepath.Join(r.outputDir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// WriteSummary 写入 summary.md
func (r *Reporter) WriteSummary(report *models.CrawlReport) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	path := filepath.Join(r.outputDir, SummaryFileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建摘要文件失败: %w", err)
	}
	defer f.Close()

	md := markdown.NewMarkdown(f)
	writeOverview(md, report)
	writeKinds(md, report)
	writeRetries(md, report)
	writeFailures(md, report)
	writeVerify(md, report)

	if err := md.Build(); err != nil {
		return fmt.Errorf("写入摘要文件失败: %w", err)
	}

	Debugf("保存摘要: %s", path)
	return nil
}

// writeOverview 基本信息与总计
func writeOverview(md *markdown.Markdown, report *models.CrawlReport) {
	stats := report.Stats

	md.H1("Site Mirror Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + report.RunID + "`"},
			{"Base URL", report.BaseURL},
			{"Output", "`" + report.OutputDir + "`"},
			{"Started", report.StartTime.Format("2006-01-02 15:04:05 MST")},
			{"Finished", report.EndTime.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", fmt.Sprintf("%.2fs", stats.Elapsed)},
			{"Downloaded", humanize.Comma(int64(stats.Downloaded))},
			{"Skipped", humanize.Comma(int64(stats.Skipped))},
			{"Failed", humanize.Comma(int64(stats.Failed))},
			{"Total size", humanize.Bytes(uint64(stats.TotalBytes))},
			{"Retries", strconv.Itoa(stats.Retries)},
			{"Rewritten files", strconv.Itoa(stats.Rewritten)},
			{"Peak heap", humanize.Bytes(stats.PeakHeapBytes)},
		},
	})
	md.PlainText("")
}

// writeKinds 按资源类型统计
func writeKinds(md *markdown.Markdown, report *models.CrawlReport) {
	md.H2("By Kind")
	md.PlainText("")

	rows := make([][]string, 0, len(models.AllAssetKinds))
	for _, kind := range models.AllAssetKinds {
		rows = append(rows, []string{string(kind), strconv.Itoa(report.Stats.ByKind[kind])})
	}
	md.Table(markdown.TableSet{Header: []string{"Kind", "Files"}, Rows: rows})
	md.PlainText("")
}

// writeRetries 重试次数分布
func writeRetries(md *markdown.Markdown, report *models.CrawlReport) {
	hist := report.Stats.RetryHistogram
	if len(hist) == 0 {
		return
	}

	keys := make([]int, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{strconv.Itoa(k), strconv.Itoa(hist[k])})
	}

	md.H2("Retries")
	md.PlainText("")
	md.Table(markdown.TableSet{Header: []string{"Retries", "URLs"}, Rows: rows})
	md.PlainText("")
}

// writeFailures 失败列表
func writeFailures(md *markdown.Markdown, report *models.CrawlReport) {
	md.H2("Failures")
	md.PlainText("")

	if len(report.Failures) == 0 {
		md.Tip("No failed URLs.")
		md.PlainText("")
		return
	}

	md.Warningf("%d URL(s) could not be mirrored.", len(report.Failures))
	md.PlainText("")

	rows := make([][]string, 0, len(report.Failures))
	for i, f := range report.Failures {
		if i == summaryListLimit {
			break
		}
		status := "-"
		if f.StatusCode > 0 {
			status = strconv.Itoa(f.StatusCode)
		}
		rows = append(rows, []string{f.URL, string(f.Kind), status, strconv.Itoa(f.Attempts)})
	}
	md.Table(markdown.TableSet{Header: []string{"URL", "Error", "Status", "Attempts"}, Rows: rows})
	md.PlainText("")
}

// writeVerify 完整性校验结果
func writeVerify(md *markdown.Markdown, report *models.CrawlReport) {
	if report.Verify == nil {
		return
	}
	v := report.Verify

	md.H2("Completeness")
	md.PlainText("")

	if v.Complete() {
		md.Tip("Every reference in the mirror resolves to a stored file or a recorded failure.")
		md.PlainText("")
		return
	}

	md.Table(markdown.TableSet{
		Header: []string{"Gap", "Count"},
		Rows: [][]string{
			{"Missing (in scope)", strconv.Itoa(v.MissingInScope)},
			{"Missing (external)", strconv.Itoa(v.MissingExternal)},
			{"Missing files", strconv.Itoa(len(v.MissingFiles))},
			{"Broken local links", strconv.Itoa(len(v.BrokenLinks))},
		},
	})
	md.PlainText("")

	if len(v.Missing) > 0 {
		md.H3("Missing references")
		md.PlainText("")
		md.BulletList(limit(v.Missing)...)
		md.PlainText("")
	}

	if len(v.BrokenLinks) > 0 {
		links := make([]string, 0, len(v.BrokenLinks))
		for _, bl := range v.BrokenLinks {
			links = append(links, fmt.Sprintf("`%s` -> `%s`", bl.File, bl.Link))
		}
		md.H3("Broken local links")
		md.PlainText("")
		md.BulletList(limit(links)...)
		md.PlainText("")
	}
}

// limit 截断过长的列表
func limit(items []string) []string {
	if len(items) <= summaryListLimit {
		return items
	}
	out := append([]string{}, items[:summaryListLimit]...)
	return append(out, fmt.Sprintf("... %d more", len(items)-summaryListLimit))
}

// NewProgressBar 创建进度条
// max为-1时显示不确定进度
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
