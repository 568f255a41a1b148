// Package storage persists the outreach audit trail and the per-identity
// contact history used to skip numbers messaged recently.
package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines audit + contact snapshot/journal next to Path
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention bounds the contact history. 0 means 30 days.
	Retention time.Duration
}

func (c Config) retention() time.Duration {
	if c.Retention <= 0 {
		return 30 * 24 * time.Hour
	}
	return c.Retention
}

// AttemptEntry is the audit record of one processed lead.
type AttemptEntry struct {
	At         time.Time `json:"at"`
	CycleID    string    `json:"cycle_id"`
	LeadID     string    `json:"lead_id"`
	LeadName   string    `json:"lead_name,omitempty"`
	Candidates int       `json:"candidates"`
	Reachable  int       `json:"reachable"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// Summary aggregates attempts over a period.
type Summary struct {
	Since     time.Time
	Leads     int
	Contacted int // leads with at least one successful send
	Attempted int
	Succeeded int
	Errors    int
}

func (s *Summary) add(e AttemptEntry) {
	s.Leads++
	if e.Succeeded > 0 {
		s.Contacted++
	}
	s.Attempted += e.Attempted
	s.Succeeded += e.Succeeded
	if e.Error != "" {
		s.Errors++
	}
}
