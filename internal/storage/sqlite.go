//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "leadbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db        *sql.DB
	log       logx.Logger
	retention time.Duration

	writes atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the orchestrator is single-flight anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, retention: cfg.retention()}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAttempt(ctx context.Context, e AttemptEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts(at, at_ms, cycle_id, lead_id, lead_name, candidates, reachable, attempted, succeeded, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.At.UnixMilli(), e.CycleID, e.LeadID, nullStr(e.LeadName),
		e.Candidates, e.Reachable, e.Attempted, e.Succeeded, e.Outcome, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	sum := Summary{Since: since}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN succeeded > 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(attempted), 0),
		        COALESCE(SUM(succeeded), 0),
		        COALESCE(SUM(CASE WHEN err IS NOT NULL THEN 1 ELSE 0 END), 0)
		   FROM attempts WHERE at_ms >= ?`, since.UnixMilli(),
	).Scan(&sum.Leads, &sum.Contacted, &sum.Attempted, &sum.Succeeded, &sum.Errors)
	return sum, err
}

func (s *sqliteStore) MarkContacted(ctx context.Context, identity string, at time.Time) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(identity, at_ms) VALUES(?,?)
		 ON CONFLICT(identity) DO UPDATE SET at_ms = MAX(at_ms, excluded.at_ms)`,
		identity, at.UnixMilli(),
	)
	if err == nil && s.writes.Add(1)%compactEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM contacts WHERE at_ms < ?`,
			time.Now().Add(-s.retention).UnixMilli()); perr != nil {
			s.log.Debug("contact prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) LastContacted(ctx context.Context, identity string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT at_ms FROM contacts WHERE identity = ?`,
		strings.TrimSpace(identity)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
