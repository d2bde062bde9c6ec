// Package catalog keeps a small sqlite audit trail of pipeline runs: one
// row per stage item with its before/after record counts. The CSV and TSV
// artifacts the stages write stay the source of truth; the catalog exists
// so past runs can be inspected without digging through data directories.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Amirreza-0/PMGen/logger"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS stage_runs (
		run_id     TEXT NOT NULL,
		stage      TEXT NOT NULL,
		item       TEXT NOT NULL,
		n_before   INTEGER NOT NULL,
		n_after    INTEGER NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage, created_at);
`

type Catalog struct {
	db *sql.DB
}

// Open opens the catalog database, creating file and schema when missing.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Entry is one audit row. CreatedAt is filled by sqlite on insert.
type Entry struct {
	RunID     string
	Stage     string
	Item      string
	NBefore   int
	NAfter    int
	Detail    string
	CreatedAt string
}

func (c *Catalog) Record(e Entry) error {
	_, err := c.db.Exec(
		`INSERT INTO stage_runs (run_id, stage, item, n_before, n_after, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Stage, e.Item, e.NBefore, e.NAfter, e.Detail)
	if err != nil {
		return fmt.Errorf("record stage run: %w", err)
	}
	return nil
}

// TryRecord inserts an audit row but only warns on failure. The catalog is
// advisory and must never break a pipeline run. Safe to call on a nil
// catalog, which makes it a no-op.
func (c *Catalog) TryRecord(e Entry) {
	if c == nil {
		return
	}
	if err := c.Record(e); err != nil {
		logger.Warn("could not record catalog entry",
			zap.String("stage", e.Stage),
			zap.String("item", e.Item),
			zap.String("error", err.Error()))
	}
}

// History returns up to limit rows, newest first. An empty stage selects
// across all stages.
func (c *Catalog) History(stage string, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	PREP := `
		SELECT run_id, stage, item, n_before, n_after, detail, created_at
		FROM stage_runs
		{{WHERE_STAGE}}
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	var where string
	var args []interface{}
	if stage != "" {
		where = "WHERE stage = ?"
		args = append(args, stage)
	}
	args = append(args, limit)

	qstring := strings.ReplaceAll(PREP, "{{WHERE_STAGE}}", where)

	rows, err := c.db.QueryContext(ctx, qstring, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Stage, &e.Item, &e.NBefore, &e.NAfter, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage run rows: %w", err)
	}

	return entries, nil
}
