package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbot/internal/phone"
	logx "leadbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]error
	sent  []string
	times []time.Time
}

func (f *fakeSender) Send(ctx context.Context, identity, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, identity)
	f.times = append(f.times, time.Now())
	return f.fail[identity]
}

func cands(ids ...string) []phone.Candidate {
	out := make([]phone.Candidate, len(ids))
	for i, id := range ids {
		out[i] = phone.Candidate{Raw: id, Source: "primary", Identity: id}
	}
	return out
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	fs := &fakeSender{fail: map[string]error{"5531988887777": errors.New("boom")}}
	p := NewPacer(fs, Config{Delay: 0}, logx.Nop())

	var observed int
	p.OnSend(func(phone.Candidate, error) { observed++ })

	res := p.Dispatch(context.Background(), cands("5531999998888", "5531988887777", "5531977776666"), "hi")
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "5531988887777", res.Failures[0].Identity)
	assert.True(t, res.Contacted())
	assert.Equal(t, 3, observed)
	assert.Equal(t, []string{"5531999998888", "5531988887777", "5531977776666"}, fs.sent)
}

func TestDispatchAllFail(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSender{fail: map[string]error{"a": boom, "b": boom}}
	res := NewPacer(fs, Config{}, logx.Nop()).Dispatch(context.Background(), cands("a", "b"), "x")
	assert.Equal(t, 2, res.Attempted)
	assert.Zero(t, res.Succeeded)
	assert.False(t, res.Contacted())
}

func TestDispatchPacesSends(t *testing.T) {
	fs := &fakeSender{}
	p := NewPacer(fs, Config{Delay: 40 * time.Millisecond}, logx.Nop())

	p.Dispatch(context.Background(), cands("a", "b", "c"), "x")
	require.Len(t, fs.times, 3)
	for i := 1; i < len(fs.times); i++ {
		gap := fs.times[i].Sub(fs.times[i-1])
		assert.GreaterOrEqual(t, gap, 30*time.Millisecond, "gap %d", i)
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	fs := &fakeSender{}
	p := NewPacer(fs, Config{Delay: time.Hour}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	p.OnSend(func(phone.Candidate, error) { cancel() })

	res := p.Dispatch(ctx, cands("a", "b"), "x")
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
}

func TestDispatchRecoversPanickingSender(t *testing.T) {
	p := NewPacer(panicSender{}, Config{}, logx.Nop())
	res := p.Dispatch(context.Background(), cands("a"), "x")
	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Failures, 1)
}

type panicSender struct{}

func (panicSender) Send(context.Context, string, string) error { panic("nope") }
