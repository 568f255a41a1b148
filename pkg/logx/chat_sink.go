package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	chatMaxLen   = 3500
	chatFieldMax = 600
)

// chatWriter is the zerolog sink feeding the operator chat queue.
type chatWriter struct{ svc *Service }

func (w *chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	to := s.target
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if to.IsZero() || s.sender == nil || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		return len(p), nil
	}
	if msg := FormatChatLine(p); msg != "" {
		s.enqueue(to, msg)
	}
	return len(p), nil
}

// FormatChatLine renders one zerolog JSON line as a short chat message:
// "[LEVEL] message" followed by sorted "- key=value" lines.
func FormatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMaxLen)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n")
			b.WriteString(truncate(v, 900))
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(v, chatFieldMax))
	}
	return truncate(b.String(), chatMaxLen)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
