package cvedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"vulnscan/internal/utils"
)

// Cache 本地sqlite缓存，按CVE编号保存归一化后的记录，避免重复访问NVD
type Cache struct {
	db     *sql.DB
	path   string
	maxAge time.Duration
	logger *utils.Logger
}

// NewCache 打开或创建缓存数据库。maxAge 为 0 时记录永不过期
func NewCache(dbPath string, maxAge time.Duration) (*Cache, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, xerrors.Errorf("创建缓存目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, xerrors.Errorf("打开缓存数据库失败: %w", err)
	}
	if dbPath == ":memory:" {
		// 内存库每个连接是独立的数据库
		db.SetMaxOpenConns(1)
	}

	cache := &Cache{
		db:     db,
		path:   dbPath,
		maxAge: maxAge,
		logger: utils.NewLogger("cvedb-cache"),
	}
	if err := cache.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return cache, nil
}

func (c *Cache) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cve_id TEXT UNIQUE NOT NULL,
		description TEXT,
		cvss_score REAL,
		cvss_vector TEXT,
		severity TEXT,
		published TEXT,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_severity ON cves(severity);

	CREATE TABLE IF NOT EXISTS lookup_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cve_id TEXT NOT NULL,
		source TEXT,
		looked_up_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return xerrors.Errorf("初始化缓存表失败: %w", err)
	}
	return nil
}

// Count 缓存中的CVE数量
func (c *Cache) Count() (int, error) {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM cves").Scan(&count); err != nil {
		return 0, xerrors.Errorf("统计缓存失败: %w", err)
	}
	return count, nil
}

// LookupRecord 一条查询历史
type LookupRecord struct {
	CVEID      string
	Source     string
	LookedUpAt string
}

// History 最近的查询历史，最新的在前
func (c *Cache) History(limit int) ([]LookupRecord, error) {
	rows, err := c.db.Query(`
		SELECT cve_id, source, looked_up_at
		FROM lookup_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, xerrors.Errorf("查询历史失败: %w", err)
	}
	defer rows.Close()

	var history []LookupRecord
	for rows.Next() {
		var r LookupRecord
		if err := rows.Scan(&r.CVEID, &r.Source, &r.LookedUpAt); err != nil {
			continue
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

func (c *Cache) Close() error {
	return c.db.Close()
}
