package outreach

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"leadbot/internal/dispatch"
	"leadbot/internal/eventbus"
	"leadbot/internal/hours"
	"leadbot/internal/leads"
	"leadbot/internal/phone"
	"leadbot/internal/storage"
	logx "leadbot/pkg/logx"
)

// SendEvent is the payload of dispatch.sent and dispatch.failed.
type SendEvent struct {
	CycleID  string
	LeadID   string
	Identity string
	Source   string
	Err      string
}

// leadResult is what one processed lead contributed to the cycle.
type leadResult struct {
	dispatch.Result
	Candidates int
	Reachable  int
	Outcome    Outcome
	Err        error
}

// RunCycle executes one full cycle. Run calls it from the scheduler
// goroutine; tests call it directly.
func (o *Orchestrator) RunCycle(ctx context.Context) (res CycleResult) {
	start := o.now()
	res = CycleResult{ID: uuid.NewString(), StartedAt: start}
	log := o.log.With(logx.String("cycle", res.ID[:8]))

	defer func() {
		// a panic outside processLead (lead source, gate) ends only this cycle
		if r := recover(); r != nil {
			log.Error("cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res.Outcome = OutcomeFailure
		}
		res.Took = o.now().Sub(start)
		o.stMu.Lock()
		o.last = res
		o.cycles++
		o.stMu.Unlock()
		o.publish(eventbus.CycleFinished, res)
		log.Debug("cycle finished",
			logx.String("outcome", string(res.Outcome)),
			logx.Int("leads", res.Leads),
			logx.Int("successes", res.Successes),
			logx.Duration("took", res.Took),
		)
	}()

	if o.paused.Load() {
		res.Outcome = OutcomePaused
		return res
	}

	o.setState(StateGateCheck)
	gate, _, _ := o.current()
	if !gate.IsOpen(start) {
		res.Outcome = OutcomeOutOfHours
		res.NextOpen = gate.NextOpen(start)
		res.UntilOpen = res.NextOpen.Sub(start)
		o.setState(StateOutOfHours)
		log.Info("outside business hours",
			logx.String("window", gate.Window()),
			logx.Time("next_open", res.NextOpen),
			logx.String("resumes_in", hours.HumanizeDelay(start, res.NextOpen)),
		)
		return res
	}

	cfg := o.config()
	for attempt := 0; attempt < cfg.MaxAttempts && res.Successes < cfg.Quota; attempt++ {
		if attempt > 0 {
			if o.paused.Load() {
				log.Info("paused mid-cycle; not acquiring more leads")
				break
			}
			if sleepCtx(ctx, cfg.LeadDelay) != nil {
				break
			}
		}

		o.setState(StateAcquire)
		lead, err := o.source.FetchNext(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				log.Debug("lead fetch interrupted", logx.Err(err))
			case leads.IsBackendError(err):
				log.Warn("lead backend unavailable; retrying later", logx.Err(err))
			default:
				log.Warn("lead fetch failed", logx.Err(err))
			}
			break
		}
		if lead == nil {
			log.Info("no lead available")
			break
		}

		res.Leads++
		lr := o.processLead(ctx, log, res.ID, cfg, *lead)
		res.Attempted += lr.Attempted
		res.Succeeded += lr.Succeeded
		if lr.Contacted() {
			res.Successes++
		}
		if cfg.Quota > 1 {
			log.Info("quota progress",
				logx.Int("successes", res.Successes),
				logx.Int("quota", cfg.Quota),
				logx.Int("attempts", attempt+1),
				logx.Int("max_attempts", cfg.MaxAttempts),
			)
		}
	}

	switch {
	case res.Leads == 0:
		res.Outcome = OutcomeNoCandidate
	case res.Successes >= cfg.Quota:
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeFailure
	}
	return res
}

// processLead expands, verifies and dispatches one lead. The lead is marked
// processed exactly once on every path, including a recovered panic.
func (o *Orchestrator) processLead(ctx context.Context, log logx.Logger, cycleID string, cfg Config, lead leads.Lead) (lr leadResult) {
	log = log.With(logx.String("lead", lead.ID.String()), logx.String("name", lead.Name))
	_, norm, tmpl := o.current()

	defer func() {
		if r := recover(); r != nil {
			lr.Err = fmt.Errorf("panic: %v", r)
			log.Error("lead processing panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		if lr.Outcome == "" || (lr.Err != nil && !lr.Contacted()) {
			lr.Outcome = OutcomeFailure
		}
		o.setState(StateRecord)
		o.markProcessed(ctx, log, cfg, lead.ID)
		o.audit(ctx, log, cycleID, lead, lr)
	}()

	cands := norm.Expand(lead.PhoneParts())
	lr.Candidates = len(cands)
	log.Info("lead acquired", logx.Int("candidates", len(cands)))

	if cfg.ContactDedupWindow > 0 && o.store != nil {
		cands = o.dropRecent(ctx, log, cands, cfg.ContactDedupWindow)
	}
	if len(cands) == 0 {
		log.Warn("lead has no usable phone number")
		lr.Outcome = OutcomeFailure
		return lr
	}

	o.setState(StateVerify)
	reachable := make([]phone.Candidate, 0, len(cands))
	for i, c := range cands {
		if i > 0 && sleepCtx(ctx, cfg.VerifyDelay) != nil {
			break
		}
		if o.verifier.Verify(ctx, c.Identity) {
			reachable = append(reachable, c)
			continue
		}
		log.Info("candidate not reachable", logx.Phone("to", c.Identity), logx.String("source", c.Source))
	}
	lr.Reachable = len(reachable)
	log.Info("presence verified", logx.Int("reachable", len(reachable)), logx.Int("candidates", len(cands)))
	if len(reachable) == 0 {
		lr.Outcome = OutcomeFailure
		return lr
	}

	body, err := tmpl.Outreach(lead.Name)
	if err != nil {
		lr.Err = fmt.Errorf("render outreach message: %w", err)
		log.Error("message render failed", logx.Err(err))
		lr.Outcome = OutcomeFailure
		return lr
	}

	o.setState(StateDispatch)
	lr.Result = o.pacer.Dispatch(ctx, reachable, body)
	o.recordSends(ctx, log, cycleID, lead.ID, reachable, lr.Result)

	if lr.Contacted() {
		lr.Outcome = OutcomeSuccess
		log.Info("lead contacted", logx.Int("succeeded", lr.Succeeded), logx.Int("attempted", lr.Attempted))
	} else {
		lr.Outcome = OutcomeFailure
		log.Warn("every send failed", logx.Int("attempted", lr.Attempted))
	}
	return lr
}

// recordSends publishes one event per attempted candidate and remembers the
// delivered identities for the dedup window.
func (o *Orchestrator) recordSends(ctx context.Context, log logx.Logger, cycleID string, leadID leads.ID, sent []phone.Candidate, r dispatch.Result) {
	failed := make(map[string]error, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.Identity] = f.Err
	}
	now := o.now()
	for _, c := range sent[:min(r.Attempted, len(sent))] {
		ev := SendEvent{CycleID: cycleID, LeadID: leadID.String(), Identity: c.Identity, Source: c.Source}
		if err, bad := failed[c.Identity]; bad {
			ev.Err = err.Error()
			o.publish(eventbus.DispatchFailed, ev)
			continue
		}
		o.publish(eventbus.DispatchSent, ev)
		if o.store != nil {
			if err := o.store.MarkContacted(ctx, c.Identity, now); err != nil {
				log.Warn("contact history write failed", logx.Err(err))
			}
		}
	}
}

func (o *Orchestrator) dropRecent(ctx context.Context, log logx.Logger, cands []phone.Candidate, window time.Duration) []phone.Candidate {
	cutoff := o.now().Add(-window)
	out := make([]phone.Candidate, 0, len(cands))
	for _, c := range cands {
		at, ok, err := o.store.LastContacted(ctx, c.Identity)
		if err != nil {
			log.Warn("contact history read failed", logx.Err(err))
		}
		if ok && at.After(cutoff) {
			log.Info("skipping recently contacted number", logx.Phone("to", c.Identity), logx.Time("last", at))
			continue
		}
		out = append(out, c)
	}
	return out
}

// markProcessed runs detached from ctx cancellation so a shutdown mid-lead
// still advances the backend timestamp.
func (o *Orchestrator) markProcessed(ctx context.Context, log logx.Logger, cfg Config, id leads.ID) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.MarkTimeout)
	defer cancel()
	if err := o.source.MarkProcessed(mctx, id, o.now()); err != nil {
		log.Error("mark processed failed", logx.Err(err))
		return
	}
	log.Debug("lead marked processed")
}

func (o *Orchestrator) audit(ctx context.Context, log logx.Logger, cycleID string, lead leads.Lead, lr leadResult) {
	if o.store == nil {
		return
	}
	e := storage.AttemptEntry{
		At:         o.now(),
		CycleID:    cycleID,
		LeadID:     lead.ID.String(),
		LeadName:   lead.Name,
		Candidates: lr.Candidates,
		Reachable:  lr.Reachable,
		Attempted:  lr.Attempted,
		Succeeded:  lr.Succeeded,
		Outcome:    string(lr.Outcome),
	}
	if lr.Err != nil {
		e.Error = lr.Err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.AppendAttempt(actx, e); err != nil {
		log.Warn("attempt audit write failed", logx.Err(err))
	}
}

func (o *Orchestrator) publish(typ string, data any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: o.now(), Data: data})
}
