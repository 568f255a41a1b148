package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, l.With(String("comp", "x")).IsZero())
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "outreach"))
	l.Info("cycle finished", Int("succeeded", 2), Phone("to", "5531999998888"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "outreach", m["comp"])
	assert.Equal(t, "cycle finished", m["message"])
	assert.EqualValues(t, 2, m["succeeded"])
	assert.Equal(t, "5531*******88", m["to"])
	assert.Contains(t, m["caller"], "logx_test.go")
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "5531****88", MaskPhone("5531998888"))
	assert.Equal(t, "1234", MaskPhone("1234"))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestFormatChatLine(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"presence circuit opened","threshold":10,"comp":"presence"}`
	got := FormatChatLine([]byte(line))
	assert.Equal(t, "[WARN] presence circuit opened\n- comp=presence\n- threshold=10", got)

	assert.Equal(t, "plain text", FormatChatLine([]byte("  plain text \n")))
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	to   []transport.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestOperatorSinkForwardsWarnings(t *testing.T) {
	snd := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Operator: OperatorConfig{
			Enabled:    true,
			Target:     transport.ChatTarget{ChatID: -100},
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, snd)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("backend unavailable", String("comp", "leads"))

	require.Eventually(t, func() bool { return snd.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	snd.mu.Lock()
	defer snd.mu.Unlock()
	assert.True(t, strings.HasPrefix(snd.msgs[0], "[WARN] backend unavailable"))
	assert.Equal(t, int64(-100), snd.to[0].ChatID)
}

func TestComponentDoesNotAliasParentFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("cycle", "c1"))
	a := base.Component("outreach")
	b := base.Component("dispatch")
	a.Info("x")
	b.Info("y")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"comp":"outreach"`)
	assert.Contains(t, lines[1], `"comp":"dispatch"`)
	assert.Contains(t, lines[1], `"cycle":"c1"`)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadbot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.Info("cycle finished", String("comp", "outreach"))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"cycle finished"`)
}

func TestFileSinkOpenFailureKeepsLogging(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "dir", "leadbot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: bad}}, nil)
	defer svc.Close()

	assert.NotPanics(t, func() { log.Warn("still here") })
	_, err := os.Stat(bad)
	assert.True(t, os.IsNotExist(err))
}
