package cvedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/xerrors"

	"vulnscan/internal/model"
)

// Get 读取缓存的记录，过期或不存在时 ok 为 false
func (c *Cache) Get(id string) (model.CVEReference, bool, error) {
	query := `SELECT payload FROM cves WHERE cve_id = ?`
	args := []any{id}
	if c.maxAge > 0 {
		query += ` AND created_at >= datetime('now', ?)`
		args = append(args, fmt.Sprintf("-%d seconds", int64(c.maxAge.Seconds())))
	}

	var payload string
	err := c.db.QueryRow(query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CVEReference{}, false, nil
	}
	if err != nil {
		return model.CVEReference{}, false, xerrors.Errorf("读取缓存失败 %s: %w", id, err)
	}

	var ref model.CVEReference
	if err := json.Unmarshal([]byte(payload), &ref); err != nil {
		c.logger.Warn("缓存记录损坏 %s: %v", id, err)
		return model.CVEReference{}, false, nil
	}
	return ref, true, nil
}

// Put 写入或替换一条记录，并记录来源
func (c *Cache) Put(ref model.CVEReference, source string) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return xerrors.Errorf("编码缓存记录失败: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return xerrors.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	var score sql.NullFloat64
	if ref.Score != nil {
		score = sql.NullFloat64{Float64: *ref.Score, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO cves
		(cve_id, description, cvss_score, cvss_vector, severity, published, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.Description, score, ref.Vector, string(ref.Severity), ref.Published, string(payload),
	)
	if err != nil {
		return xerrors.Errorf("写入缓存失败 %s: %w", ref.ID, err)
	}

	_, err = tx.Exec(`INSERT INTO lookup_history (cve_id, source) VALUES (?, ?)`, ref.ID, source)
	if err != nil {
		return xerrors.Errorf("记录查询历史失败: %w", err)
	}

	return tx.Commit()
}
