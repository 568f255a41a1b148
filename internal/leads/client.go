package leads

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

// BackendError wraps any failure talking to the lead backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return "lead backend " + e.Op + ": " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err came from the lead backend.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

type ClientConfig struct {
	BaseURL   string
	FetchPath string // default "/lead/"
	MarkPath  string // default "/lead/{id}"
	MarkField string // default "lastMessage"
	Timeout   time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.FetchPath == "" {
		c.FetchPath = "/lead/"
	}
	if c.MarkPath == "" {
		c.MarkPath = "/lead/{id}"
	}
	if c.MarkField == "" {
		c.MarkField = "lastMessage"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Client is the HTTP lead Source.
type Client struct {
	cfg ClientConfig
	hc  *httpx.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("leads: base url is required")
	}
	if !strings.Contains(cfg.MarkPath, "{id}") {
		return nil, fmt.Errorf("leads: mark path %q has no {id} placeholder", cfg.MarkPath)
	}
	return &Client{cfg: cfg, hc: httpx.New(cfg.BaseURL, cfg.Timeout, nil)}, nil
}

// WithHTTPClient is used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.hc = c.hc.WithHTTPClient(hc)
	return &cp
}

func (c *Client) FetchNext(ctx context.Context) (*Lead, error) {
	var lead *Lead
	status, err := c.hc.Do(ctx, http.MethodGet, c.cfg.FetchPath, nil, &lead,
		http.StatusOK, http.StatusNoContent, http.StatusNotFound)
	if err != nil {
		return nil, &BackendError{Op: "fetch", Err: err}
	}
	if status != http.StatusOK || lead == nil || lead.ID == "" {
		return nil, nil
	}
	return lead, nil
}

func (c *Client) MarkProcessed(ctx context.Context, id ID, at time.Time) error {
	if id == "" {
		return &BackendError{Op: "mark", Err: errors.New("empty lead id")}
	}
	path := strings.ReplaceAll(c.cfg.MarkPath, "{id}", url.PathEscape(id.String()))
	body := map[string]any{c.cfg.MarkField: at.UTC().Format(time.RFC3339Nano)}
	if _, err := c.hc.Do(ctx, http.MethodPut, path, body, nil, http.StatusOK, http.StatusNoContent); err != nil {
		return &BackendError{Op: "mark", Err: err}
	}
	return nil
}
