package outreach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leadbot/internal/dispatch"
	"leadbot/internal/hours"
	"leadbot/internal/leads"
	logx "leadbot/pkg/logx"
)

type fakeSource struct {
	mu      sync.Mutex
	queue   []leads.Lead
	err     error
	fetches int
	marked  []leads.ID
}

func (f *fakeSource) FetchNext(context.Context) (*leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	l := f.queue[0]
	f.queue = f.queue[1:]
	return &l, nil
}

func (f *fakeSource) MarkProcessed(_ context.Context, id leads.ID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeSource) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

type fakeVerifier struct {
	mu       sync.Mutex
	verdicts map[string]bool // missing means reachable
	panicOn  string
	checked  []string
}

func (f *fakeVerifier) Verify(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.panicOn {
		panic("verifier exploded")
	}
	f.checked = append(f.checked, id)
	if v, ok := f.verdicts[id]; ok {
		return v
	}
	return true
}

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	connErr   error
	fail      map[string]error
	sent      map[string][]string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{connected: true, fail: map[string]error{}, sent: map[string][]string{}}
}

func (f *fakeChannel) Connected(context.Context) (bool, error) { return f.connected, f.connErr }

func (f *fakeChannel) Send(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return err
	}
	f.sent[id] = append(f.sent[id], text)
	return nil
}

func (f *fakeChannel) SentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for id := range f.sent {
		out = append(out, id)
	}
	return out
}

var errBoom = errors.New("boom")

// noon in the gate's zone; the 7h-23h window is open.
var noon = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func testGate(t *testing.T) *hours.Gate {
	t.Helper()
	g, err := hours.New(time.UTC, 7, 23)
	require.NoError(t, err)
	return g
}

type harness struct {
	src  *fakeSource
	ver  *fakeVerifier
	ch   *fakeChannel
	orch *Orchestrator
}

func newHarness(t *testing.T, cfg Config, now time.Time, queue ...leads.Lead) *harness {
	t.Helper()
	h := &harness{
		src: &fakeSource{queue: queue},
		ver: &fakeVerifier{verdicts: map[string]bool{}},
		ch:  newFakeChannel(),
	}
	pacer := dispatch.NewPacer(h.ch, dispatch.Config{}, logx.Nop())
	o, err := New(cfg, Deps{
		Source:   h.src,
		Gate:     testGate(t),
		Verifier: h.ver,
		Pacer:    pacer,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	h.orch = o
	return h
}
