// Package dispatch sends one message body to a list of phone candidates at a
// fixed pace.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"leadbot/internal/phone"
	logx "leadbot/pkg/logx"
)

// Sender delivers a text message to one identity.
type Sender interface {
	Send(ctx context.Context, identity, text string) error
}

// Failure records one candidate the channel refused.
type Failure struct {
	Identity string
	Source   string
	Err      error
}

type Result struct {
	Attempted int
	Succeeded int
	Failures  []Failure
}

// Contacted reports whether at least one candidate received the message.
func (r Result) Contacted() bool { return r.Succeeded >= 1 }

// Observer is notified after each send attempt.
type Observer func(c phone.Candidate, err error)

type Config struct {
	Delay       time.Duration // between consecutive sends, default 2s
	SendTimeout time.Duration // per send, default 30s
}

func (c Config) withDefaults() Config {
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Pacer spaces sends by a fixed delay. The limiter is shared across
// batches, so two back-to-back Dispatch calls are paced as one stream.
type Pacer struct {
	sender Sender
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	observe Observer
}

func NewPacer(sender Sender, cfg Config, log logx.Logger) *Pacer {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Pacer{sender: sender, log: log, cfg: cfg, limiter: newLimiter(cfg.Delay)}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Apply swaps pacing settings. The next send waits under the new delay.
func (p *Pacer) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.Delay != p.cfg.Delay {
		if cfg.Delay <= 0 {
			p.limiter.SetLimit(rate.Inf)
		} else {
			p.limiter.SetLimit(rate.Every(cfg.Delay))
		}
	}
	p.cfg = cfg
}

// OnSend installs an observer called after every attempt.
func (p *Pacer) OnSend(fn Observer) {
	p.mu.Lock()
	p.observe = fn
	p.mu.Unlock()
}

// Dispatch attempts every candidate in order. A failed send never aborts
// the batch. Cancellation of ctx stops before the next send.
func (p *Pacer) Dispatch(ctx context.Context, cands []phone.Candidate, body string) Result {
	p.mu.Lock()
	cfg := p.cfg
	lim := p.limiter
	observe := p.observe
	p.mu.Unlock()

	var res Result
	for _, c := range cands {
		if err := lim.Wait(ctx); err != nil {
			p.log.Debug("dispatch stopped", logx.Err(err), logx.Int("remaining", len(cands)-res.Attempted))
			break
		}

		res.Attempted++
		err := p.send(ctx, cfg, c.Identity, body)
		if observe != nil {
			observe(c, err)
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{Identity: c.Identity, Source: c.Source, Err: err})
			p.log.Warn("send failed",
				logx.Phone("to", c.Identity),
				logx.String("source", c.Source),
				logx.Err(err),
			)
			continue
		}
		res.Succeeded++
		p.log.Info("message sent", logx.Phone("to", c.Identity), logx.String("source", c.Source))
	}
	return res
}

func (p *Pacer) send(ctx context.Context, cfg Config, identity, body string) (err error) {
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("send panicked")
		}
	}()
	return p.sender.Send(sctx, identity, body)
}
