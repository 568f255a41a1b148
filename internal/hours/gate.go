// Package hours decides whether outreach is currently allowed and when the
// next allowed window starts.
package hours

import (
	"fmt"
	"time"
)

const DefaultTimezone = "America/Sao_Paulo"

// Gate is a daily [Open, Close) window evaluated in Location.
type Gate struct {
	loc   *time.Location
	open  int
	close int
}

// New builds a gate. open and close are whole hours, 0 <= open < close <= 24.
func New(loc *time.Location, open, close int) (*Gate, error) {
	if loc == nil {
		return nil, fmt.Errorf("hours: nil location")
	}
	if open < 0 || close > 24 || open >= close {
		return nil, fmt.Errorf("hours: invalid window %d-%d", open, close)
	}
	return &Gate{loc: loc, open: open, close: close}, nil
}

// Load resolves tz (empty means DefaultTimezone) and builds a gate.
func Load(tz string, open, close int) (*Gate, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("hours: timezone %q: %w", tz, err)
	}
	return New(loc, open, close)
}

func (g *Gate) Location() *time.Location { return g.loc }

// Window renders the window as "7h-23h".
func (g *Gate) Window() string { return fmt.Sprintf("%dh-%dh", g.open, g.close) }

// IsOpen reports open <= hour(now) < close in the gate's location.
func (g *Gate) IsOpen(now time.Time) bool {
	h := now.In(g.loc).Hour()
	return h >= g.open && h < g.close
}

// NextOpen returns the start of the next window.
//
// Before the open hour it is today at open; at or after close it is tomorrow
// at open. Called while open, it returns today at the close hour.
func (g *Gate) NextOpen(now time.Time) time.Time {
	t := now.In(g.loc)
	y, m, d := t.Date()
	switch {
	case t.Hour() < g.open:
		return time.Date(y, m, d, g.open, 0, 0, 0, g.loc)
	case t.Hour() >= g.close:
		return time.Date(y, m, d+1, g.open, 0, 0, 0, g.loc)
	default:
		return time.Date(y, m, d, g.close, 0, 0, 0, g.loc)
	}
}

// UntilOpen is the delay until NextOpen, never negative.
func (g *Gate) UntilOpen(now time.Time) time.Duration {
	d := g.NextOpen(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// HumanizeDelay renders target-now as "8h 30min", "8h" or "45min".
func HumanizeDelay(now, target time.Time) string {
	d := target.Sub(now)
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dmin", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dmin", h, m)
	}
}
