// Package outreach runs the lead outreach cycle: gate check, lead
// acquisition, candidate expansion, presence verification, paced dispatch
// and scheduling of the next wake-up. It also hosts the direct sends used by
// the HTTP surface.
package outreach

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"leadbot/internal/dispatch"
	"leadbot/internal/eventbus"
	"leadbot/internal/hours"
	"leadbot/internal/leads"
	"leadbot/internal/phone"
	"leadbot/internal/storage"
	logx "leadbot/pkg/logx"
)

// Verifier answers whether an identity is reachable on the channel.
type Verifier interface {
	Verify(ctx context.Context, identity string) bool
}

// Dispatcher sends one body to a list of candidates.
type Dispatcher interface {
	Dispatch(ctx context.Context, cands []phone.Candidate, body string) dispatch.Result
}

type Config struct {
	Quota       int // successes that end a cycle
	MaxAttempts int // leads per cycle

	SuccessCooldown time.Duration
	RetryDelay      time.Duration
	InitialDelay    time.Duration
	ResumeDelay     time.Duration
	VerifyDelay     time.Duration
	LeadDelay       time.Duration
	MarkTimeout     time.Duration

	StartPaused        bool
	ContactDedupWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Quota:           1,
		MaxAttempts:     1,
		SuccessCooldown: 15 * time.Minute,
		RetryDelay:      4 * time.Second,
		InitialDelay:    5 * time.Second,
		ResumeDelay:     2 * time.Second,
		VerifyDelay:     time.Second,
		LeadDelay:       3 * time.Second,
		MarkTimeout:     15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Quota <= 0 {
		c.Quota = d.Quota
	}
	if c.MaxAttempts < c.Quota {
		c.MaxAttempts = c.Quota
	}
	if c.SuccessCooldown <= 0 {
		c.SuccessCooldown = d.SuccessCooldown
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.ResumeDelay < 0 {
		c.ResumeDelay = 0
	}
	if c.MarkTimeout <= 0 {
		c.MarkTimeout = d.MarkTimeout
	}
	return c
}

func (c Config) delays() Delays {
	return Delays{SuccessCooldown: c.SuccessCooldown, RetryDelay: c.RetryDelay}
}

// Deps are the collaborators. Store and Bus are optional.
type Deps struct {
	Source     leads.Source
	Gate       *hours.Gate
	Normalizer *phone.Normalizer
	Verifier   Verifier
	Pacer      Dispatcher
	Templates  *Templates
	Store      storage.Store
	Bus        eventbus.Bus
	Log        logx.Logger
	Now        func() time.Time
}

// Runtime holds the hot-reloadable pieces. Nil fields are left unchanged.
type Runtime struct {
	Config     *Config
	Gate       *hours.Gate
	Normalizer *phone.Normalizer
	Templates  *Templates
}

// Status is the orchestrator view served on /status.
type Status struct {
	Paused      bool      `json:"paused"`
	State       State     `json:"state"`
	LastOutcome Outcome   `json:"last_outcome,omitempty"`
	LastCycleID string    `json:"last_cycle_id,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitzero"`
	NextWakeAt  time.Time `json:"next_wake_at,omitzero"`
	Cycles      uint64    `json:"cycles"`
	Quota       int       `json:"quota"`
	MaxAttempts int       `json:"max_attempts"`
}

// Orchestrator owns all scheduler state: the single pending timer (inside
// Run), the pause flag and the last outcome.
type Orchestrator struct {
	source   leads.Source
	verifier Verifier
	pacer    Dispatcher
	store    storage.Store
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	mu   sync.RWMutex
	cfg  Config
	gate *hours.Gate
	norm *phone.Normalizer
	tmpl *Templates

	paused  atomic.Bool
	nudge   chan struct{}
	running atomic.Bool

	stMu     sync.Mutex
	state    State
	last     CycleResult
	nextWake time.Time
	cycles   uint64
}

func New(cfg Config, d Deps) (*Orchestrator, error) {
	switch {
	case d.Source == nil:
		return nil, errors.New("outreach: lead source is required")
	case d.Gate == nil:
		return nil, errors.New("outreach: hours gate is required")
	case d.Verifier == nil:
		return nil, errors.New("outreach: verifier is required")
	case d.Pacer == nil:
		return nil, errors.New("outreach: dispatcher is required")
	}
	if d.Normalizer == nil {
		d.Normalizer = phone.New(phone.DefaultConfig())
	}
	if d.Templates == nil {
		d.Templates = mustDefaultTemplates()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		source:   d.Source,
		verifier: d.Verifier,
		pacer:    d.Pacer,
		store:    d.Store,
		bus:      d.Bus,
		log:      d.Log,
		now:      d.Now,
		cfg:      cfg,
		gate:     d.Gate,
		norm:     d.Normalizer,
		tmpl:     d.Templates,
		nudge:    make(chan struct{}, 1),
		state:    StateIdle,
	}
	if cfg.StartPaused {
		o.paused.Store(true)
		o.state = StatePaused
	}
	return o, nil
}

// Apply swaps hot-reloadable settings. A changed delay takes effect on the
// next arming of the timer.
func (o *Orchestrator) Apply(rt Runtime) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rt.Config != nil {
		o.cfg = rt.Config.withDefaults()
	}
	if rt.Gate != nil {
		o.gate = rt.Gate
	}
	if rt.Normalizer != nil {
		o.norm = rt.Normalizer
	}
	if rt.Templates != nil {
		o.tmpl = rt.Templates
	}
}

func (o *Orchestrator) config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

func (o *Orchestrator) current() (*hours.Gate, *phone.Normalizer, *Templates) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.gate, o.norm, o.tmpl
}

// Gate returns the business-hours gate in use.
func (o *Orchestrator) Gate() *hours.Gate {
	g, _, _ := o.current()
	return g
}

// Pause stops scheduling. The pending timer is cleared by the loop; a cycle
// already running finishes its current lead. It reports whether the flag
// changed.
func (o *Orchestrator) Pause() bool {
	if o.paused.Swap(true) {
		return false
	}
	o.log.Info("outreach paused")
	o.poke()
	return true
}

// Resume clears the pause flag and re-arms after ResumeDelay.
func (o *Orchestrator) Resume() bool {
	if !o.paused.Swap(false) {
		return false
	}
	o.log.Info("outreach resumed")
	o.poke()
	return true
}

func (o *Orchestrator) Paused() bool { return o.paused.Load() }

func (o *Orchestrator) poke() {
	select {
	case o.nudge <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) setState(s State) {
	o.stMu.Lock()
	o.state = s
	o.stMu.Unlock()
}

func (o *Orchestrator) setNextWake(t time.Time) {
	o.stMu.Lock()
	o.nextWake = t
	o.stMu.Unlock()
}

func (o *Orchestrator) Status() Status {
	cfg := o.config()
	o.stMu.Lock()
	defer o.stMu.Unlock()
	return Status{
		Paused:      o.paused.Load(),
		State:       o.state,
		LastOutcome: o.last.Outcome,
		LastCycleID: o.last.ID,
		LastCycleAt: o.last.StartedAt,
		NextWakeAt:  o.nextWake,
		Cycles:      o.cycles,
		Quota:       cfg.Quota,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Run drives cycles until ctx ends. It must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("outreach: already running")
	}
	defer o.running.Store(false)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	arm := func(d time.Duration) {
		timer.Stop()
		if d < 0 {
			o.setNextWake(time.Time{})
			return
		}
		timer.Reset(d)
		o.setNextWake(o.now().Add(d))
	}

	if o.paused.Load() {
		o.setState(StatePaused)
		o.log.Info("outreach starting paused; waiting for start")
	} else {
		d := o.config().InitialDelay
		o.log.Info("outreach scheduled", logx.Duration("initial_delay", d))
		arm(d)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-o.nudge:
			if o.paused.Load() {
				arm(-1)
				o.setState(StatePaused)
				continue
			}
			o.setState(StateIdle)
			arm(o.config().ResumeDelay)

		case <-timer.C:
			// a timer that fired just before Pause must not start a cycle
			if o.paused.Load() {
				o.setNextWake(time.Time{})
				o.setState(StatePaused)
				continue
			}
			res := o.RunCycle(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Pause/Resume during the cycle left a nudge behind. The flag
			// below already reflects it, and replaying it would replace
			// the cooldown with ResumeDelay.
			select {
			case <-o.nudge:
			default:
			}

			from := StateScheduleNext
			if o.paused.Load() {
				from = StatePaused
			}
			next, delay := Transition(from, res, o.config().delays())
			o.setState(next)
			arm(delay)
			if delay >= 0 {
				o.log.Info("next cycle scheduled",
					logx.String("outcome", string(res.Outcome)),
					logx.Duration("in", delay),
				)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
