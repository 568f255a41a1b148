// Package httpx holds the JSON request helper shared by the outbound clients
// (lead backend, messaging gateway).
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// StatusError is returned for responses outside the accepted status codes.
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Message string // "error"/"message" field of a JSON body, or the raw body
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Client performs JSON requests against one base URL.
type Client struct {
	http    *http.Client
	baseURL string
	header  http.Header
}

func New(baseURL string, timeout time.Duration, header http.Header) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
	}
}

// WithHTTPClient swaps the underlying client (tests use httptest servers).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

func (c *Client) BaseURL() string { return c.baseURL }

// Do sends body (JSON encoded when non-nil) and decodes the response into
// out when out is non-nil and the body is not empty. It returns the status
// code; statuses outside ok produce a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, ok ...int) (int, error) {
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return resp.StatusCode, &StatusError{
			Method:  method,
			URL:     url,
			Status:  resp.StatusCode,
			Message: errorMessage(raw),
		}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
