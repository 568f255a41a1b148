package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadbot/internal/transport"
	logx "leadbot/pkg/logx"
)

// Commander runs a control command and returns the reply.
type Commander interface {
	Handle(from, body string) (reply string, handled bool)
}

const consoleHelp = "Comandos disponíveis:\n/start retoma o envio automático\n/stop pausa o envio automático\n/status mostra o estado atual"

// Console routes owner messages to the control handler. Everyone else is
// ignored.
type Console struct {
	sender transport.Sender
	cmd    Commander
	log    logx.Logger
	owners map[int64]struct{}

	replyTimeout time.Duration
}

func NewConsole(sender transport.Sender, cmd Commander, owners []int64, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Console{sender: sender, cmd: cmd, log: log, owners: make(map[int64]struct{}, len(owners)), replyTimeout: 15 * time.Second}
	for _, id := range owners {
		c.owners[id] = struct{}{}
	}
	return c
}

func (c *Console) IsOwner(id int64) bool {
	_, ok := c.owners[id]
	return ok
}

// Run consumes in until ctx is done or in is closed.
func (c *Console) Run(ctx context.Context, in <-chan transport.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in:
			if !ok {
				return nil
			}
			c.Handle(ctx, m)
		}
	}
}

// Handle answers a single message.
func (c *Console) Handle(ctx context.Context, m transport.Message) {
	if !c.IsOwner(m.FromID) {
		c.log.Debug("ignoring non-owner message", logx.Int64("from_id", m.FromID), logx.Int64("chat_id", m.ChatID))
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	reply, handled := c.cmd.Handle(fmt.Sprintf("tg:%d", m.FromID), text)
	if !handled {
		if m.IsGroup {
			// owners chat in the log group; only slash-commands are answered there
			return
		}
		reply = consoleHelp
	}

	sctx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()
	to := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := c.sender.SendText(sctx, to, reply, &transport.SendOptions{ParseMode: "Markdown", DisablePreview: true}); err != nil {
		c.log.Warn("console reply failed", logx.Err(err), logx.Int64("chat_id", m.ChatID))
	}
}
