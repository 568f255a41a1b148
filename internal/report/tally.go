package report

import (
	"context"
	"sync"
	"time"

	"leadbot/internal/eventbus"
	"leadbot/internal/outreach"
	"leadbot/internal/storage"
)

// Tally is an in-memory Summarizer fed from cycle events, used when no
// storage is configured. It forgets everything older than keep.
type Tally struct {
	keep time.Duration

	mu     sync.Mutex
	cycles []outreach.CycleResult
}

func NewTally(keep time.Duration) *Tally {
	if keep <= 0 {
		keep = 48 * time.Hour
	}
	return &Tally{keep: keep}
}

func (t *Tally) Observe(e eventbus.Event) {
	r, ok := e.Data.(outreach.CycleResult)
	if e.Type != eventbus.CycleFinished || !ok || r.Leads == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := e.Time.Add(-t.keep)
	i := 0
	for i < len(t.cycles) && t.cycles[i].StartedAt.Before(cutoff) {
		i++
	}
	t.cycles = append(t.cycles[i:], r)
}

// Consume reads events until ctx ends or ch closes.
func (t *Tally) Consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.Observe(e)
		}
	}
}

// Summarize counts cycles, not individual lead errors: Errors stays zero.
func (t *Tally) Summarize(_ context.Context, since time.Time) (storage.Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := storage.Summary{Since: since}
	for _, r := range t.cycles {
		if r.StartedAt.Before(since) {
			continue
		}
		s.Leads += r.Leads
		s.Contacted += r.Successes
		s.Attempted += r.Attempted
		s.Succeeded += r.Succeeded
	}
	return s, nil
}
