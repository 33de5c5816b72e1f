// Package manifest 把镜像运行的终态结果写入SQLite
//
// manifest.db 位于输出根目录, 多次运行共用同一个文件:
// 每个URL只保留最近一次运行的结果, runs表保留每次运行的汇总。
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	_ "modernc.org/sqlite" // SQLite driver
)

// FileName 清单数据库文件名
const FileName = "manifest.db"

// Store SQLite清单存储
type Store struct {
	db    *sql.DB
	path  string
	runID string
}

// Open 在dir下打开或创建清单数据库
func Open(dir string, runID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建清单目录失败: %w", err)
	}
	path := filepath.Join(dir, FileName)

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("打开清单数据库失败: %w", err)
	}

	// SQLite只支持单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("启用WAL失败: %w", err)
	}

	s := &Store{db: db, path: path, runID: runID}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建清单表失败: %w", err)
	}
	return s, nil
}

// Path 数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables 创建表结构
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		base_url TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		downloaded INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		total_bytes INTEGER DEFAULT 0,
		missing INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS downloads (
		url TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		final_url TEXT,
		local_path TEXT NOT NULL,
		size INTEGER,
		kind TEXT,
		content_type TEXT,
		attempts INTEGER,
		depth INTEGER,
		skipped INTEGER,
		fetched_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_path ON downloads(local_path);

	CREATE TABLE IF NOT EXISTS failures (
		url TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		error_kind TEXT,
		status_code INTEGER,
		error_msg TEXT,
		attempts INTEGER,
		depth INTEGER
	);

	CREATE TABLE IF NOT EXISTS aliases (
		requested TEXT PRIMARY KEY,
		final TEXT NOT NULL,
		run_id TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// RecordDownload 记录一个下载结果, 同时清除该URL以前的失败记录
func (s *Store) RecordDownload(ctx context.Context, rec models.DownloadRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO downloads
			(url, run_id, final_url, local_path, size, kind, content_type, attempts, depth, skipped, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, s.runID, rec.FinalURL, rec.LocalPath, rec.Size, string(rec.Kind),
		rec.ContentType, rec.Attempts, rec.Depth, rec.Skipped, rec.FetchedAt,
	); err != nil {
		return fmt.Errorf("写入下载记录失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE url = ?`, rec.URL); err != nil {
		return fmt.Errorf("清除失败记录失败: %w", err)
	}
	return tx.Commit()
}

// RecordFailure 记录一个失败结果
// 以前运行成功下载的URL保留下载记录, 文件仍在磁盘上
func (s *Store) RecordFailure(ctx context.Context, rec models.FailureRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO failures
			(url, run_id, error_kind, status_code, error_msg, attempts, depth)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, s.runID, string(rec.Kind), rec.StatusCode, rec.ErrorMsg, rec.Attempts, rec.Depth,
	)
	if err != nil {
		return fmt.Errorf("写入失败记录失败: %w", err)
	}
	return nil
}

// RecordAlias 记录重定向别名
func (s *Store) RecordAlias(ctx context.Context, requested, final string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO aliases (requested, final, run_id) VALUES (?, ?, ?)`,
		requested, final, s.runID,
	)
	if err != nil {
		return fmt.Errorf("写入别名失败: %w", err)
	}
	return nil
}

// RecordRun 记录整份运行报告: 汇总、全部下载、失败与别名
// 在一个事务中完成
func (s *Store) RecordRun(ctx context.Context, report *models.CrawlReport, aliases map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	missing := 0
	if report.Verify != nil {
		missing = len(report.Verify.Missing)
	}
	stats := report.Stats
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, base_url, started_at, finished_at, downloaded, skipped, failed, total_bytes, missing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, report.BaseURL, report.StartTime, report.EndTime,
		stats.Downloaded, stats.Skipped, stats.Failed, stats.TotalBytes, missing,
	); err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}

	for _, rec := range report.Downloads {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO downloads
				(url, run_id, final_url, local_path, size, kind, content_type, attempts, depth, skipped, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.URL, s.runID, rec.FinalURL, rec.LocalPath, rec.Size, string(rec.Kind),
			rec.ContentType, rec.Attempts, rec.Depth, rec.Skipped, rec.FetchedAt,
		); err != nil {
			return fmt.Errorf("写入下载记录失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE url = ?`, rec.URL); err != nil {
			return fmt.Errorf("清除失败记录失败: %w", err)
		}
	}

	for _, rec := range report.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO failures
				(url, run_id, error_kind, status_code, error_msg, attempts, depth)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.URL, s.runID, string(rec.Kind), rec.StatusCode, rec.ErrorMsg, rec.Attempts, rec.Depth,
		); err != nil {
			return fmt.Errorf("写入失败记录失败: %w", err)
		}
	}

	for requested, final := range aliases {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO aliases (requested, final, run_id) VALUES (?, ?, ?)`,
			requested, final, s.runID,
		); err != nil {
			return fmt.Errorf("写入别名失败: %w", err)
		}
	}

	return tx.Commit()
}

// Downloads 读取全部下载记录, 按URL排序
func (s *Store) Downloads(ctx context.Context) ([]models.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, final_url, local_path, size, kind, content_type, attempts, depth, skipped, fetched_at
		FROM downloads ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("查询下载记录失败: %w", err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		var (
			rec  models.DownloadRecord
			kind string
		)
		if err := rows.Scan(&rec.URL, &rec.FinalURL, &rec.LocalPath, &rec.Size, &kind,
			&rec.ContentType, &rec.Attempts, &rec.Depth, &rec.Skipped, &rec.FetchedAt); err != nil {
			return nil, fmt.Errorf("读取下载记录失败: %w", err)
		}
		rec.Kind = models.AssetKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadDownloads 读取dir下已有清单中的下载记录, 以URL为键
// 清单不存在时返回空表且不会创建数据库文件
func LoadDownloads(ctx context.Context, dir string) (map[string]models.DownloadRecord, error) {
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		if os.IsNotExist(err) {
			return map[string]models.DownloadRecord{}, nil
		}
		return nil, fmt.Errorf("检查清单文件失败: %w", err)
	}

	store, err := Open(dir, "")
	if err != nil {
		return nil, err
	}
	defer store.Close()

	records, err := store.Downloads(ctx)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]models.DownloadRecord, len(records))
	for _, rec := range records {
		byURL[rec.URL] = rec
	}
	return byURL, nil
}

// Failures 读取全部失败记录, 按URL排序
func (s *Store) Failures(ctx context.Context) ([]models.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, error_kind, status_code, error_msg, attempts, depth
		FROM failures ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("查询失败记录失败: %w", err)
	}
	defer rows.Close()

	var records []models.FailureRecord
	for rows.Next() {
		var (
			rec  models.FailureRecord
			kind string
		)
		if err := rows.Scan(&rec.URL, &kind, &rec.StatusCode, &rec.ErrorMsg, &rec.Attempts, &rec.Depth); err != nil {
			return nil, fmt.Errorf("读取失败记录失败: %w", err)
		}
		rec.Kind = models.ErrorKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RunCount 已记录的运行次数
func (s *Store) RunCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return n, nil
}
