// Package phone turns the phone numbers found on lead records into canonical
// identities the messaging channel accepts.
//
// An identity is a digit string: country code, two-digit area code, local
// number. Mobile local numbers may carry a leading marker digit ("9"); a
// Normalizer applies exactly one MarkerPolicy so every identity it produces
// has the same shape.
package phone

import (
	"fmt"
	"strings"
)

// MarkerPolicy decides what happens to the mobile marker digit.
type MarkerPolicy string

const (
	// MarkerKeep produces 13-digit identities, inserting the marker when missing.
	MarkerKeep MarkerPolicy = "keep"
	// MarkerStrip produces 12-digit identities, removing the marker when present.
	MarkerStrip MarkerPolicy = "strip"
)

func ParseMarkerPolicy(s string) (MarkerPolicy, error) {
	switch MarkerPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MarkerKeep:
		return MarkerKeep, nil
	case MarkerStrip:
		return MarkerStrip, nil
	default:
		return "", fmt.Errorf("unknown marker policy %q (want keep|strip)", s)
	}
}

type Config struct {
	CountryCode    string
	Policy         MarkerPolicy
	MarkerDigit    byte
	AreaCodeLen    int
	MinDigits      int // shortest accepted identity, country code included
	MaxDigits      int
	MinLocalDigits int // ComposeFromParts
	MinRawDigits   int // ExtractMultiple
	Delimiter      string
}

func DefaultConfig() Config {
	return Config{
		CountryCode:    "55",
		Policy:         MarkerKeep,
		MarkerDigit:    '9',
		AreaCodeLen:    2,
		MinDigits:      12,
		MaxDigits:      13,
		MinLocalDigits: 8,
		MinRawDigits:   8,
		Delimiter:      "/",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CountryCode == "" {
		c.CountryCode = d.CountryCode
	}
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.MarkerDigit == 0 {
		c.MarkerDigit = d.MarkerDigit
	}
	if c.AreaCodeLen <= 0 {
		c.AreaCodeLen = d.AreaCodeLen
	}
	if c.MinDigits <= 0 {
		c.MinDigits = d.MinDigits
	}
	if c.MaxDigits <= 0 {
		c.MaxDigits = d.MaxDigits
	}
	if c.MinLocalDigits <= 0 {
		c.MinLocalDigits = d.MinLocalDigits
	}
	if c.MinRawDigits <= 0 {
		c.MinRawDigits = d.MinRawDigits
	}
	if c.Delimiter == "" {
		c.Delimiter = d.Delimiter
	}
	return c
}

// Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	cfg Config
}

func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg.withDefaults()}
}

func (n *Normalizer) Config() Config { return n.cfg }

func (n *Normalizer) Policy() MarkerPolicy { return n.cfg.Policy }

// Normalize converts raw text into an identity. ok is false when the digits
// cannot form a plausible identity.
//
// The country code is prepended unless the digits already start with it and
// are long enough to contain it; an 11-digit local number whose area code
// equals the country code is therefore still prefixed.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	d := strings.TrimLeft(Digits(raw), "0")
	if d == "" {
		return "", false
	}
	cc := n.cfg.CountryCode
	if !(strings.HasPrefix(d, cc) && len(d) >= n.cfg.MinDigits) {
		d = cc + d
	}
	if len(d) < n.cfg.MinDigits || len(d) > n.cfg.MaxDigits {
		return "", false
	}
	if d[len(cc)] == '0' {
		return "", false
	}
	return n.Canonical(d, n.cfg.Policy), true
}

// Canonical rewrites an identity under policy. Identities outside the
// policy's domain are returned unchanged.
func (n *Normalizer) Canonical(id string, policy MarkerPolicy) string {
	at := len(n.cfg.CountryCode) + n.cfg.AreaCodeLen
	switch policy {
	case MarkerStrip:
		if len(id) == n.cfg.MaxDigits && len(id) > at && id[at] == n.cfg.MarkerDigit {
			return id[:at] + id[at+1:]
		}
	case MarkerKeep:
		if len(id) == n.cfg.MinDigits && len(id) > at {
			return id[:at] + string(n.cfg.MarkerDigit) + id[at:]
		}
	}
	return id
}

// Valid reports whether id already is an identity this Normalizer would produce.
func (n *Normalizer) Valid(id string) bool {
	if id == "" || Digits(id) != id {
		return false
	}
	got, ok := n.Normalize(id)
	return ok && got == id
}

// Variants returns every accepted form of raw: the keep form first, then
// the strip form when it differs. Used for broadcast notifications where the
// channel may know the contact under either form.
func (n *Normalizer) Variants(raw string) []string {
	id, ok := n.Normalize(raw)
	if !ok {
		return nil
	}
	keep := n.Canonical(id, MarkerKeep)
	strip := n.Canonical(keep, MarkerStrip)
	if strip == keep {
		return []string{keep}
	}
	return []string{keep, strip}
}

// ComposeFromParts joins an area code and a local number. Both are reduced
// to digits first; the area code must have exactly AreaCodeLen digits and the
// local number at least MinLocalDigits.
func (n *Normalizer) ComposeFromParts(areaCode, local string) (string, bool) {
	ac := Digits(areaCode)
	ln := Digits(local)
	if len(ac) != n.cfg.AreaCodeLen || len(ln) < n.cfg.MinLocalDigits {
		return "", false
	}
	return ac + ln, true
}

// ExtractMultiple splits free text on the delimiter and keeps each segment
// with at least MinRawDigits digits, reduced to digits. Order is preserved.
func (n *Normalizer) ExtractMultiple(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(text, n.cfg.Delimiter) {
		d := Digits(seg)
		if len(d) >= n.cfg.MinRawDigits {
			out = append(out, d)
		}
	}
	return out
}

// Digits drops every non-digit byte.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
