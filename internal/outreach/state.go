package outreach

import "time"

// State is where the orchestrator is in its cycle.
type State string

const (
	StateIdle         State = "idle"
	StateGateCheck    State = "gate-check"
	StateOutOfHours   State = "out-of-hours"
	StateAcquire      State = "acquire"
	StateVerify       State = "verify"
	StateDispatch     State = "dispatch"
	StateRecord       State = "record"
	StateScheduleNext State = "schedule-next"
	StatePaused       State = "paused"
)

// Outcome is the result of one cycle. It only selects the next delay.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeNoCandidate Outcome = "no-candidate"
	OutcomeOutOfHours  Outcome = "out-of-hours"
	OutcomePaused      Outcome = "paused"
)

// CycleResult summarizes a finished cycle.
type CycleResult struct {
	ID        string
	Outcome   Outcome
	StartedAt time.Time
	Took      time.Duration

	Leads     int // leads acquired
	Successes int // leads contacted
	Attempted int // sends attempted across leads
	Succeeded int // sends delivered across leads

	// UntilOpen is set for OutcomeOutOfHours.
	UntilOpen time.Duration
	NextOpen  time.Time
}

// Delays are the wake-up delays chosen per outcome.
type Delays struct {
	SuccessCooldown time.Duration
	RetryDelay      time.Duration
}

// Transition picks the next state and timer delay after a cycle. A paused
// result arms nothing: the returned delay is negative.
func Transition(from State, r CycleResult, d Delays) (State, time.Duration) {
	if from == StatePaused {
		return StatePaused, -1
	}
	switch r.Outcome {
	case OutcomePaused:
		return StatePaused, -1
	case OutcomeOutOfHours:
		return StateIdle, max(r.UntilOpen, 0)
	case OutcomeSuccess:
		return StateIdle, d.SuccessCooldown
	default:
		return StateIdle, d.RetryDelay
	}
}
