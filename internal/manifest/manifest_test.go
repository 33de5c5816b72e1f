package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
)

func TestStoreRecordRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, "run-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	report := &models.CrawlReport{
		RunID:     "run-1",
		BaseURL:   "https://example.com/",
		StartTime: now,
		EndTime:   now.Add(time.Second),
		Stats:     models.NewRunStatistics(),
		Downloads: []models.DownloadRecord{
			{URL: "https://example.com/", LocalPath: "index.html", Kind: models.KindHTML, Size: 10, Attempts: 1, FetchedAt: now},
			{URL: "https://example.com/a.css", LocalPath: "a.css", Kind: models.KindCSS, Size: 5, Attempts: 2, FetchedAt: now},
		},
		Failures: []models.FailureRecord{
			{URL: "https://example.com/gone", Kind: models.ErrPermanent, StatusCode: 404, Attempts: 1},
		},
	}
	aliases := map[string]string{"https://example.com/old": "https://example.com/"}

	if err := store.RecordRun(ctx, report, aliases); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	downloads, err := store.Downloads(ctx)
	if err != nil {
		t.Fatalf("Downloads() error = %v", err)
	}
	if len(downloads) != 2 {
		t.Fatalf("Downloads() 数量 = %d, want 2", len(downloads))
	}
	if downloads[1].URL != "https://example.com/a.css" || downloads[1].Kind != models.KindCSS || downloads[1].Attempts != 2 {
		t.Errorf("Downloads()[1] = %+v", downloads[1])
	}

	failures, err := store.Failures(ctx)
	if err != nil {
		t.Fatalf("Failures() error = %v", err)
	}
	if len(failures) != 1 || failures[0].StatusCode != 404 || failures[0].Kind != models.ErrPermanent {
		t.Errorf("Failures() = %+v", failures)
	}

	runs, err := store.RunCount(ctx)
	if err != nil || runs != 1 {
		t.Errorf("RunCount() = %d, %v, want 1", runs, err)
	}
}

func TestStoreDownloadClearsFailure(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Open(dir, "run-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := first.RecordFailure(ctx, models.FailureRecord{URL: "https://example.com/x", Kind: models.ErrTransientNetwork, Attempts: 4}); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	first.Close()

	// 第二次运行打开同一个文件
	second, err := Open(dir, "run-2")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer second.Close()

	if err := second.RecordDownload(ctx, models.DownloadRecord{URL: "https://example.com/x", LocalPath: "x.html", Kind: models.KindHTML, Attempts: 1}); err != nil {
		t.Fatalf("RecordDownload() error = %v", err)
	}
	if err := second.RecordAlias(ctx, "https://example.com/y", "https://example.com/x"); err != nil {
		t.Fatalf("RecordAlias() error = %v", err)
	}

	failures, err := second.Failures(ctx)
	if err != nil {
		t.Fatalf("Failures() error = %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("下载成功后仍有失败记录: %+v", failures)
	}
}

func TestLoadDownloads(t *testing.T) {
	ctx := context.Background()

	t.Run("清单不存在", func(t *testing.T) {
		dir := t.TempDir()
		downloads, err := LoadDownloads(ctx, dir)
		if err != nil || len(downloads) != 0 {
			t.Fatalf("LoadDownloads() = %v, %v, want 空表", downloads, err)
		}
		if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
			t.Errorf("不应创建 %s, Stat error = %v", FileName, err)
		}
	})

	t.Run("按URL索引", func(t *testing.T) {
		dir := t.TempDir()
		store, err := Open(dir, "run-1")
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		report := &models.CrawlReport{
			RunID:     "run-1",
			BaseURL:   "https://example.com/",
			StartTime: time.Now(),
			EndTime:   time.Now(),
			Stats:     models.NewRunStatistics(),
			Downloads: []models.DownloadRecord{
				{URL: "https://example.com/docs", FinalURL: "https://example.com/docs/", LocalPath: "docs/index.html", Kind: models.KindHTML},
				{URL: "https://example.com/logo", FinalURL: "https://example.com/logo", LocalPath: "logo.png", Kind: models.KindImage, ContentType: "image/png"},
			},
		}
		if err := store.RecordRun(ctx, report, nil); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
		store.Close()

		downloads, err := LoadDownloads(ctx, dir)
		if err != nil {
			t.Fatalf("LoadDownloads() error = %v", err)
		}
		docs := downloads["https://example.com/docs"]
		if docs.FinalURL != "https://example.com/docs/" || docs.LocalPath != "docs/index.html" {
			t.Errorf("docs = %+v", docs)
		}
		logo := downloads["https://example.com/logo"]
		if logo.Kind != models.KindImage || logo.LocalPath != "logo.png" {
			t.Errorf("logo = %+v", logo)
		}
	})
}
