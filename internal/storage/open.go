package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "leadbot/pkg/logx"
)

// Store is the persistence API used by the outreach orchestrator and the
// daily report.
type Store interface {
	AppendAttempt(ctx context.Context, e AttemptEntry) error
	Summarize(ctx context.Context, since time.Time) (Summary, error)

	MarkContacted(ctx context.Context, identity string, at time.Time) error
	LastContacted(ctx context.Context, identity string) (at time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
