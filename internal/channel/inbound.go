package channel

import "strings"

// Inbound is a message the gateway forwards from the chat session.
type Inbound struct {
	From    string `json:"from" binding:"required"`
	Body    string `json:"body"`
	FromMe  bool   `json:"fromMe"`
	IsGroup bool   `json:"isGroup"`
}

// Identity strips the chat-id suffix from From.
func (m Inbound) Identity() string {
	from := strings.TrimSpace(m.From)
	if i := strings.IndexByte(from, '@'); i >= 0 {
		return from[:i]
	}
	return from
}

// Actionable reports whether the message may drive the control handler:
// direct messages from someone other than the session itself.
func (m Inbound) Actionable() bool {
	if m.FromMe || m.IsGroup {
		return false
	}
	return !strings.HasSuffix(m.From, "@g.us") && strings.TrimSpace(m.Body) != ""
}
