// Package presence answers "is this identity reachable on the channel?"
// without letting a degraded channel stall the outreach loop.
//
// Verify never returns an error. Channel failures are absorbed by a
// consecutive-error circuit breaker:
//   - any definite answer resets the error counter
//   - an error or timeout increments it; at the threshold the circuit opens
//   - while open, Verify assumes reachable and does not touch the channel
//   - after the cooldown the next call closes the circuit and verifies again
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "leadbot/pkg/logx"
)

// Checker is the part of the messaging channel the verifier needs.
type Checker interface {
	Connected(ctx context.Context) (bool, error)
	IsRegistered(ctx context.Context, identity string) (bool, error)
}

// ErrVerifyTimeout is recorded when a check exceeds Config.Timeout.
var ErrVerifyTimeout = errors.New("presence: verification timed out")

// ErrorPolicy decides what an error means for the caller.
type ErrorPolicy string

const (
	// Classify treats transient errors (timeouts, known session signatures)
	// as reachable and any other error as unreachable.
	Classify ErrorPolicy = "classify"
	// FailClosed treats every error as unreachable.
	FailClosed ErrorPolicy = "fail_closed"
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Classify:
		return Classify, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown presence error policy %q (want classify|fail_closed)", s)
	}
}

// DefaultTransientErrors are substrings of channel errors that indicate a
// browser-session hiccup rather than a verdict about the number.
var DefaultTransientErrors = []string{
	"WidFactory",
	"Evaluation failed",
	"Timeout",
	"Protocol error",
	"Target closed",
	"Session closed",
}

type Config struct {
	Timeout time.Duration
	// FailureThreshold: 0 means default (10), negative disables the breaker.
	FailureThreshold int
	Cooldown         time.Duration
	ErrorPolicy      ErrorPolicy
	TransientErrors  []string

	AssumeReachableWhenDisconnected bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:                         5 * time.Second,
		FailureThreshold:                10,
		Cooldown:                        30 * time.Minute,
		ErrorPolicy:                     Classify,
		TransientErrors:                 DefaultTransientErrors,
		AssumeReachableWhenDisconnected: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = d.ErrorPolicy
	}
	if c.TransientErrors == nil {
		c.TransientErrors = d.TransientErrors
	}
	return c
}

type CircuitState string

const (
	StateClosed CircuitState = "closed"
	StateOpen   CircuitState = "open"
	// StateHalfOpenPending: cooldown elapsed, the next Verify resets the circuit.
	StateHalfOpenPending CircuitState = "half-open-pending"
)

// Snapshot is a point-in-time view for status endpoints and metrics.
type Snapshot struct {
	State             CircuitState  `json:"state"`
	Enabled           bool          `json:"enabled"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Threshold         int           `json:"threshold"`
	OpenUntil         time.Time     `json:"open_until,omitzero"`
	Timeout           time.Duration `json:"timeout"`
	Trips             uint64        `json:"trips"`
}

// Verifier is safe for concurrent use; the counters are shared by the cycle
// loop and the HTTP handlers.
type Verifier struct {
	checker Checker
	log     logx.Logger
	now     func() time.Time

	mu        sync.Mutex
	cfg       Config
	fails     int
	openUntil time.Time
	trips     uint64
}

type Option func(*Verifier)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(v *Verifier) {
		if !log.IsZero() {
			v.log = log
		}
	}
}

func New(checker Checker, cfg Config, opts ...Option) *Verifier {
	v := &Verifier{
		checker: checker,
		cfg:     cfg.withDefaults(),
		log:     logx.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Apply swaps the configuration. Counters are kept.
func (v *Verifier) Apply(cfg Config) {
	v.mu.Lock()
	v.cfg = cfg.withDefaults()
	v.mu.Unlock()
}

// Verify reports whether identity should be treated as reachable.
func (v *Verifier) Verify(ctx context.Context, identity string) bool {
	v.mu.Lock()
	cfg := v.cfg
	if cfg.FailureThreshold > 0 && !v.openUntil.IsZero() {
		if v.now().Before(v.openUntil) {
			v.mu.Unlock()
			v.log.Debug("presence circuit open; assuming reachable", logx.Phone("to", identity))
			return true
		}
		v.fails = 0
		v.openUntil = time.Time{}
		v.log.Info("presence circuit closed after cooldown")
	}
	v.mu.Unlock()

	ok, assumed, err := v.check(ctx, cfg, identity)
	if err == nil {
		// a disconnected session gave no answer; the error streak stands
		if !assumed {
			v.recordAnswer()
		}
		return ok
	}
	if ctx.Err() != nil {
		// shutting down; not the channel's fault
		return false
	}
	v.recordError(cfg, err)
	verdict := v.classify(cfg, err)
	v.log.Warn("presence check failed",
		logx.Phone("to", identity), logx.Err(err), logx.Bool("assume_reachable", verdict))
	return verdict
}

// check asks the channel. assumed is set when the session was disconnected
// and ok comes from configuration rather than the channel.
func (v *Verifier) check(ctx context.Context, cfg Config, identity string) (ok, assumed bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type answer struct {
		ok      bool
		assumed bool
		err     error
	}
	done := make(chan answer, 1)
	go func() {
		connected, err := v.checker.Connected(cctx)
		if err != nil {
			done <- answer{err: err}
			return
		}
		if !connected {
			// No session to ask; the send itself will fail fast if it must.
			done <- answer{ok: cfg.AssumeReachableWhenDisconnected, assumed: true}
			return
		}
		ok, err := v.checker.IsRegistered(cctx, identity)
		done <- answer{ok: ok, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil && errors.Is(a.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, false, ErrVerifyTimeout
		}
		return a.ok, a.assumed, a.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}
		return false, false, ErrVerifyTimeout
	}
}

func (v *Verifier) recordAnswer() {
	v.mu.Lock()
	v.fails = 0
	v.mu.Unlock()
}

func (v *Verifier) recordError(cfg Config, err error) {
	if cfg.FailureThreshold < 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fails++
	if v.fails < cfg.FailureThreshold || !v.openUntil.IsZero() {
		return
	}
	v.openUntil = v.now().Add(cfg.Cooldown)
	v.trips++
	v.log.Warn("presence circuit opened; verification suspended",
		logx.Int("consecutive_errors", v.fails),
		logx.Duration("cooldown", cfg.Cooldown),
		logx.Err(err))
}

func (v *Verifier) classify(cfg Config, err error) bool {
	if cfg.ErrorPolicy == FailClosed {
		return false
	}
	return IsTransient(err, cfg.TransientErrors)
}

// IsTransient reports whether err is a timeout or carries one of signatures.
func IsTransient(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVerifyTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, s := range signatures {
		if s != "" && strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (v *Verifier) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Snapshot{
		State:             StateClosed,
		Enabled:           true,
		ConsecutiveErrors: v.fails,
		Threshold:         v.cfg.FailureThreshold,
		OpenUntil:         v.openUntil,
		Timeout:           v.cfg.Timeout,
		Trips:             v.trips,
	}
	if v.cfg.FailureThreshold > 0 && !v.openUntil.IsZero() {
		if v.now().Before(v.openUntil) {
			s.State = StateOpen
			s.Enabled = false
		} else {
			s.State = StateHalfOpenPending
		}
	}
	return s
}
