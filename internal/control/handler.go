// Package control interprets start/stop/status commands sent to the bot
// over the messaging channel or the operator console.
package control

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"leadbot/internal/hours"
	"leadbot/internal/outreach"
	"leadbot/internal/phone"
	logx "leadbot/pkg/logx"
)

type Command string

const (
	CmdStart  Command = "start"
	CmdStop   Command = "stop"
	CmdStatus Command = "status"
)

// Parse trims, lowercases and drops a leading "/" (and a telegram
// "@botname" suffix). Anything else is not a command.
func Parse(body string) (Command, bool) {
	s := strings.ToLower(strings.TrimSpace(body))
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	switch c := Command(s); c {
	case CmdStart, CmdStop, CmdStatus:
		return c, true
	}
	return "", false
}

// Scheduler is the orchestrator surface the handler drives.
type Scheduler interface {
	Pause() bool
	Resume() bool
	Status() outreach.Status
	Gate() *hours.Gate
}

type Handler struct {
	sched Scheduler
	log   logx.Logger
	now   func() time.Time

	mu      sync.RWMutex
	allowed map[string]struct{}
}

// New builds a handler. allowed lists sender identities permitted to send
// commands over the channel; empty allows any direct message.
func New(s Scheduler, allowed []string, norm *phone.Normalizer, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{sched: s, log: log, now: time.Now}
	h.SetAllowed(allowed, norm)
	return h
}

// SetAllowed replaces the allowed sender list.
func (h *Handler) SetAllowed(allowed []string, norm *phone.Normalizer) {
	if norm == nil {
		norm = phone.New(phone.DefaultConfig())
	}
	set := make(map[string]struct{}, 2*len(allowed))
	for _, a := range allowed {
		// accept both marker forms of an allowed number
		for _, v := range norm.Variants(a) {
			set[v] = struct{}{}
		}
	}
	h.mu.Lock()
	h.allowed = set
	h.mu.Unlock()
}

// Allowed reports whether identity may control the scheduler.
func (h *Handler) Allowed(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.allowed) == 0 {
		return true
	}
	_, ok := h.allowed[phone.Digits(identity)]
	return ok
}

// Handle runs body as a command. handled is false for non-commands, which
// callers ignore.
func (h *Handler) Handle(from, body string) (reply string, handled bool) {
	cmd, ok := Parse(body)
	if !ok {
		return "", false
	}
	h.log.Info("control command", logx.String("cmd", string(cmd)), logx.String("from", from))
	return h.Exec(cmd), true
}

func (h *Handler) Exec(cmd Command) string {
	switch cmd {
	case CmdStop:
		if !h.sched.Pause() {
			return "🛑 *Sistema já está pausado.*\n\nPara retomar, envie: *start*"
		}
		return "🛑 *Sistema automático pausado!*\n\nO envio de mensagens para leads foi interrompido.\nPara retomar, envie: *start*"
	case CmdStart:
		if !h.sched.Resume() {
			return "✅ *Sistema já está ativo!*\n\nO envio automático para leads já está funcionando normalmente."
		}
		return "✅ *Sistema automático retomado!*\n\nO envio de mensagens para leads foi reiniciado.\nPara pausar, envie: *stop*"
	default:
		return h.statusText()
	}
}

func (h *Handler) statusText() string {
	st := h.sched.Status()
	gate := h.sched.Gate()
	now := h.now().In(gate.Location())

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Status*\n\nHora: %s\nJanela: %s", now.Format("02/01 15:04"), gate.Window())
	if gate.IsOpen(now) {
		b.WriteString(" (aberta)")
	} else {
		next := gate.NextOpen(now)
		fmt.Fprintf(&b, " (fechada, abre em %s)", hours.HumanizeDelay(now, next))
	}
	if st.Paused {
		b.WriteString("\nEnvio: pausado")
	} else {
		b.WriteString("\nEnvio: ativo")
	}
	if st.LastOutcome != "" {
		fmt.Fprintf(&b, "\nÚltimo ciclo: %s", st.LastOutcome)
	}
	if !st.NextWakeAt.IsZero() {
		fmt.Fprintf(&b, "\nPróximo ciclo: %s", st.NextWakeAt.In(gate.Location()).Format("15:04:05"))
	}
	if st.Quota > 1 {
		fmt.Fprintf(&b, "\nMeta por ciclo: %d (máx. %d leads)", st.Quota, st.MaxAttempts)
	}
	return b.String()
}
