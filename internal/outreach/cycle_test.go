package outreach

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbot/internal/eventbus"
	"leadbot/internal/leads"
	"leadbot/internal/storage"
	logx "leadbot/pkg/logx"
)

func TestTransition(t *testing.T) {
	d := Delays{SuccessCooldown: 15 * time.Minute, RetryDelay: 4 * time.Second}
	cases := []struct {
		from  State
		res   CycleResult
		state State
		delay time.Duration
	}{
		{StateScheduleNext, CycleResult{Outcome: OutcomeSuccess}, StateIdle, 15 * time.Minute},
		{StateScheduleNext, CycleResult{Outcome: OutcomeFailure}, StateIdle, 4 * time.Second},
		{StateScheduleNext, CycleResult{Outcome: OutcomeNoCandidate}, StateIdle, 4 * time.Second},
		{StateScheduleNext, CycleResult{Outcome: OutcomeOutOfHours, UntilOpen: 4 * time.Hour}, StateIdle, 4 * time.Hour},
		{StateScheduleNext, CycleResult{Outcome: OutcomePaused}, StatePaused, -1},
		{StatePaused, CycleResult{Outcome: OutcomeSuccess}, StatePaused, -1},
	}
	for _, c := range cases {
		state, delay := Transition(c.from, c.res, d)
		assert.Equal(t, c.state, state, "%s/%s", c.from, c.res.Outcome)
		assert.Equal(t, c.delay, delay, "%s/%s", c.from, c.res.Outcome)
	}
}

func TestCycleThreeCandidateLeadSucceeds(t *testing.T) {
	lead := leads.Lead{ID: "L1", Name: "Pizza Place", AreaCode: "31", Phone: "999998888", SecondaryPhones: "31988887777/3199997777"}
	h := newHarness(t, Config{}, noon, lead)

	bus := eventbus.New()
	h.orch.bus = bus
	events, unsub := bus.Subscribe(16)
	defer unsub()

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, res.Leads)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 3, res.Succeeded)

	assert.ElementsMatch(t, []string{"5531999998888", "5531988887777", "5531999997777"}, h.ver.checked)
	assert.ElementsMatch(t, []string{"5531999998888", "5531988887777", "5531999997777"}, h.ch.SentTo())
	assert.Contains(t, h.ch.sent["5531999998888"][0], "Pizza Place")
	assert.Equal(t, []leads.ID{"L1"}, h.src.marked)

	_, delay := Transition(StateScheduleNext, res, h.orch.config().delays())
	assert.Equal(t, 15*time.Minute, delay)

	var sent, finished int
	for len(events) > 0 {
		switch (<-events).Type {
		case eventbus.DispatchSent:
			sent++
		case eventbus.CycleFinished:
			finished++
		}
	}
	assert.Equal(t, 3, sent)
	assert.Equal(t, 1, finished)

	st := h.orch.Status()
	assert.Equal(t, OutcomeSuccess, st.LastOutcome)
	assert.Equal(t, uint64(1), st.Cycles)
}

func TestCycleQuotaStopsAtQuota(t *testing.T) {
	queue := make([]leads.Lead, 10)
	for i := range queue {
		queue[i] = leads.Lead{ID: leads.ID(fmt.Sprint(i)), Name: "Store", AreaCode: "31", Phone: fmt.Sprintf("99999%04d", i)}
	}
	h := newHarness(t, Config{Quota: 3, MaxAttempts: 10}, noon, queue...)

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Successes)
	assert.Equal(t, 3, res.Leads)
	assert.Equal(t, 7, h.src.Remaining())
	assert.Equal(t, []leads.ID{"0", "1", "2"}, h.src.marked)
}

func TestCycleQuotaFailedLeadsConsumeAttempts(t *testing.T) {
	queue := []leads.Lead{
		{ID: "bad1", AreaCode: "31"},
		{ID: "ok1", AreaCode: "31", Phone: "999990001"},
		{ID: "bad2", AreaCode: "31"},
	}
	h := newHarness(t, Config{Quota: 2, MaxAttempts: 3}, noon, queue...)

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 3, res.Leads)
	assert.Equal(t, 1, res.Successes)
	assert.Len(t, h.src.marked, 3)
}

func TestCycleOutOfHours(t *testing.T) {
	at3 := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	h := newHarness(t, Config{}, at3, leads.Lead{ID: "x"})

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeOutOfHours, res.Outcome)
	assert.Equal(t, 4*time.Hour, res.UntilOpen)
	assert.Zero(t, h.src.Fetches())

	state, delay := Transition(StateScheduleNext, res, h.orch.config().delays())
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 4*time.Hour, delay)
}

func TestCycleNoLead(t *testing.T) {
	h := newHarness(t, Config{}, noon)
	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeNoCandidate, res.Outcome)
	assert.Empty(t, h.src.marked)

	h.src.err = &leads.BackendError{Op: "fetch", Err: errBoom}
	res = h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeNoCandidate, res.Outcome)
}

func TestCycleLeadWithoutCandidatesIsMarked(t *testing.T) {
	h := newHarness(t, Config{}, noon, leads.Lead{ID: "L2", AreaCode: "3", Phone: "12"})
	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, []leads.ID{"L2"}, h.src.marked)
	assert.Empty(t, h.ver.checked)
}

func TestCycleNoneReachableIsMarked(t *testing.T) {
	h := newHarness(t, Config{}, noon, leads.Lead{ID: "L3", AreaCode: "31", Phone: "999998888"})
	h.ver.verdicts["5531999998888"] = false

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, []leads.ID{"L3"}, h.src.marked)
	assert.Empty(t, h.ch.SentTo())
}

func TestCycleSendFailureStillMarks(t *testing.T) {
	h := newHarness(t, Config{}, noon, leads.Lead{ID: "L4", AreaCode: "31", Phone: "999998888"})
	h.ch.fail["5531999998888"] = errBoom

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, []leads.ID{"L4"}, h.src.marked)
}

func TestCyclePanicIsRecoveredAndMarkedOnce(t *testing.T) {
	h := newHarness(t, Config{}, noon, leads.Lead{ID: "L5", AreaCode: "31", Phone: "999998888"})
	h.ver.panicOn = "5531999998888"

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, []leads.ID{"L5"}, h.src.marked)
}

func TestCyclePausedDoesNothing(t *testing.T) {
	h := newHarness(t, Config{StartPaused: true}, noon, leads.Lead{ID: "x"})
	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomePaused, res.Outcome)
	assert.Zero(t, h.src.Fetches())
}

func TestCycleSkipsRecentlyContacted(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "leadbot")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	lead := leads.Lead{ID: "L6", AreaCode: "31", Phone: "999998888", SecondaryPhones: "31988887777"}
	h := newHarness(t, Config{ContactDedupWindow: 24 * time.Hour}, noon, lead)
	h.orch.store = st
	require.NoError(t, st.MarkContacted(context.Background(), "5531999998888", noon.Add(-time.Hour)))

	res := h.orch.RunCycle(context.Background())
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"5531988887777"}, h.ch.SentTo())

	at, ok, err := st.LastContacted(context.Background(), "5531988887777")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(noon))

	sum, err := st.Summarize(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Leads)
	assert.Equal(t, 1, sum.Contacted)
}

type panickySource struct{ fakeSource }

func (p *panickySource) FetchNext(context.Context) (*leads.Lead, error) {
	panic("backend client exploded")
}

func TestCyclePanicOutsideLeadIsFailure(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: 4 * time.Second}, noon)
	h.orch.source = &panickySource{}

	var res CycleResult
	require.NotPanics(t, func() { res = h.orch.RunCycle(context.Background()) })
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, uint64(1), h.orch.Status().Cycles)

	_, delay := Transition(StateScheduleNext, res, h.orch.config().delays())
	assert.Equal(t, 4*time.Second, delay)
}
