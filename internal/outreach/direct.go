package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"leadbot/internal/phone"
	logx "leadbot/pkg/logx"
)

var (
	// ErrValidation marks caller mistakes: missing fields, malformed numbers.
	ErrValidation = errors.New("invalid request")
	// ErrConnectivity means the channel session is not usable right now.
	ErrConnectivity = errors.New("channel not connected")
	// ErrNotReachable is a validation error: the number is not on the channel.
	ErrNotReachable = fmt.Errorf("%w: number is not reachable on the channel", ErrValidation)
	// ErrDispatch means the channel refused or failed the send.
	ErrDispatch = errors.New("dispatch failed")
)

// Channel is the slice of the messaging gateway the direct sends use.
type Channel interface {
	Connected(ctx context.Context) (bool, error)
	Send(ctx context.Context, identity, text string) error
}

// Direct handles one-off sends requested over HTTP. It shares the verifier
// and pacer with the orchestrator, so breaker state and send pacing are
// common to both paths.
type Direct struct {
	channel  Channel
	verifier Verifier
	pacer    Dispatcher
	log      logx.Logger

	mu       sync.RWMutex
	norm     *phone.Normalizer
	tmpl     *Templates
	operator string
}

func NewDirect(ch Channel, v Verifier, p Dispatcher, norm *phone.Normalizer, tmpl *Templates, operatorPhone string, log logx.Logger) *Direct {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tmpl == nil {
		tmpl = mustDefaultTemplates()
	}
	d := &Direct{channel: ch, verifier: v, pacer: p, log: log}
	d.Apply(norm, tmpl, operatorPhone)
	return d
}

// Apply swaps the normalizer, templates and operator number. Nil values
// keep the current ones.
func (d *Direct) Apply(norm *phone.Normalizer, tmpl *Templates, operatorPhone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if norm != nil {
		d.norm = norm
	}
	if d.norm == nil {
		d.norm = phone.New(phone.DefaultConfig())
	}
	if tmpl != nil {
		d.tmpl = tmpl
	}
	d.operator = ""
	if id, ok := d.norm.Normalize(operatorPhone); ok {
		d.operator = id
	} else if strings.TrimSpace(operatorPhone) != "" {
		d.log.Warn("operator phone does not normalize; notices disabled", logx.String("phone", operatorPhone))
	}
}

func (d *Direct) snapshot() (*phone.Normalizer, *Templates, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.norm, d.tmpl, d.operator
}

// SendWelcome greets a customer who just placed a request, then tells the
// operator about it. The operator notice is best effort.
func (d *Direct) SendWelcome(ctx context.Context, target, customerName, storeName string) error {
	target, customerName, storeName = strings.TrimSpace(target), strings.TrimSpace(customerName), strings.TrimSpace(storeName)
	if target == "" || customerName == "" || storeName == "" {
		return fmt.Errorf("%w: target, customerName and storeName are required", ErrValidation)
	}
	norm, tmpl, operator := d.snapshot()

	id, ok := norm.Normalize(target)
	if !ok || !norm.Valid(id) {
		return fmt.Errorf("%w: phone number %q is malformed", ErrValidation, target)
	}

	connected, err := d.channel.Connected(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	if !connected {
		return ErrConnectivity
	}

	if !d.verifier.Verify(ctx, id) {
		return ErrNotReachable
	}

	body, err := tmpl.Welcome(customerName, storeName)
	if err != nil {
		return fmt.Errorf("%w: render welcome: %w", ErrDispatch, err)
	}
	if err := d.channel.Send(ctx, id, body); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	d.log.Info("welcome sent", logx.Phone("to", id), logx.String("customer", customerName), logx.String("store", storeName))

	if operator == "" {
		return nil
	}
	notice, err := tmpl.Notice(customerName, storeName)
	if err == nil {
		err = d.channel.Send(ctx, operator, notice)
	}
	if err != nil {
		d.log.Warn("operator notice failed", logx.Err(err))
	}
	return nil
}

// NotifyResult counts the sends of one notification.
type NotifyResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// SendNotification sends message to every marker variant of phoneRaw.
func (d *Direct) SendNotification(ctx context.Context, phoneRaw, message string) (NotifyResult, error) {
	if strings.TrimSpace(phoneRaw) == "" || strings.TrimSpace(message) == "" {
		return NotifyResult{}, fmt.Errorf("%w: message and phone are required", ErrValidation)
	}
	norm, _, _ := d.snapshot()
	variants := norm.Variants(phoneRaw)
	if len(variants) == 0 {
		return NotifyResult{}, fmt.Errorf("%w: phone number %q is malformed", ErrValidation, phoneRaw)
	}

	cands := make([]phone.Candidate, len(variants))
	for i, v := range variants {
		cands[i] = phone.Candidate{Raw: phoneRaw, Source: fmt.Sprintf("variant #%d", i+1), Identity: v}
	}
	r := d.pacer.Dispatch(ctx, cands, message)
	out := NotifyResult{Attempted: r.Attempted, Succeeded: r.Succeeded}
	if !r.Contacted() {
		if len(r.Failures) > 0 {
			return out, fmt.Errorf("%w: %w", ErrDispatch, r.Failures[0].Err)
		}
		return out, ErrDispatch
	}
	return out, nil
}

// RelayLog forwards message verbatim to the operator number.
func (d *Direct) RelayLog(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	_, _, operator := d.snapshot()
	if operator == "" {
		return fmt.Errorf("%w: operator phone is not configured", ErrDispatch)
	}
	if err := d.channel.Send(ctx, operator, message); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	return nil
}
