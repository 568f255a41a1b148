// Package channel is the client for the messaging gateway that owns the
// chat session. Session pairing and browser management live in the gateway;
// this package only asks for state, checks numbers and sends text.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadbot/internal/httpx"
)

// ErrNotConnected is returned by Send when the gateway has no live session.
var ErrNotConnected = errors.New("channel: session not connected")

const stateConnected = "CONNECTED"

type Config struct {
	BaseURL  string
	Token    string
	Session  string        // default "default"
	Timeout  time.Duration // default 30s
	IDSuffix string        // appended to identities for chat ids, default "@c.us"

	StatePath string // default "/session/{session}/state"
	CheckPath string // default "/session/{session}/contacts/{id}/registered"
	SendPath  string // default "/session/{session}/messages"
}

func (c Config) withDefaults() Config {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.IDSuffix == "" {
		c.IDSuffix = "@c.us"
	}
	if c.StatePath == "" {
		c.StatePath = "/session/{session}/state"
	}
	if c.CheckPath == "" {
		c.CheckPath = "/session/{session}/contacts/{id}/registered"
	}
	if c.SendPath == "" {
		c.SendPath = "/session/{session}/messages"
	}
	return c
}

// Gateway implements presence.Checker and dispatch.Sender over HTTP.
type Gateway struct {
	cfg Config
	hc  *httpx.Client
}

func New(cfg Config) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("channel: base url is required")
	}
	var header http.Header
	if cfg.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + cfg.Token}}
	}
	return &Gateway{cfg: cfg, hc: httpx.New(cfg.BaseURL, cfg.Timeout, header)}, nil
}

// ChatID turns an identity into the gateway's chat id.
func (g *Gateway) ChatID(identity string) string {
	if strings.Contains(identity, "@") {
		return identity
	}
	return identity + g.cfg.IDSuffix
}

func (g *Gateway) path(tmpl, identity string) string {
	p := strings.ReplaceAll(tmpl, "{session}", url.PathEscape(g.cfg.Session))
	if identity != "" {
		p = strings.ReplaceAll(p, "{id}", url.PathEscape(g.ChatID(identity)))
	}
	return p
}

// State returns the raw session state reported by the gateway.
func (g *Gateway) State(ctx context.Context) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	if _, err := g.hc.Do(ctx, http.MethodGet, g.path(g.cfg.StatePath, ""), nil, &out); err != nil {
		return "", fmt.Errorf("channel state: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(out.State)), nil
}

func (g *Gateway) Connected(ctx context.Context) (bool, error) {
	st, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	return st == stateConnected, nil
}

func (g *Gateway) IsRegistered(ctx context.Context, identity string) (bool, error) {
	var out struct {
		Registered *bool `json:"registered"`
		Exists     *bool `json:"numberExists"`
	}
	if _, err := g.hc.Do(ctx, http.MethodGet, g.path(g.cfg.CheckPath, identity), nil, &out); err != nil {
		return false, fmt.Errorf("channel check: %w", err)
	}
	switch {
	case out.Registered != nil:
		return *out.Registered, nil
	case out.Exists != nil:
		return *out.Exists, nil
	default:
		return false, errors.New("channel check: response has no registered field")
	}
}

func (g *Gateway) Send(ctx context.Context, identity, text string) error {
	body := map[string]string{"chatId": g.ChatID(identity), "text": text}
	_, err := g.hc.Do(ctx, http.MethodPost, g.path(g.cfg.SendPath, ""), body, nil,
		http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err == nil {
		return nil
	}
	switch httpx.StatusCode(err) {
	case http.StatusConflict, http.StatusServiceUnavailable:
		return fmt.Errorf("channel send: %w: %w", ErrNotConnected, err)
	}
	return fmt.Errorf("channel send: %w", err)
}
