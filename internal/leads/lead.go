// Package leads models lead records and talks to the lead backend.
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"leadbot/internal/phone"
)

// ID accepts both JSON strings and numbers; backends disagree.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("lead id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("lead id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Lead is a backend record. The scheduler only reads it.
type Lead struct {
	ID              ID         `json:"id"`
	Name            string     `json:"name"`
	AreaCode        string     `json:"ddd"`
	Phone           string     `json:"phone"`
	SecondaryPhones string     `json:"cnpjPhone"`
	LastMessage     *time.Time `json:"lastMessage,omitempty"`
}

// PhoneParts returns the phone-bearing fields for candidate expansion.
func (l Lead) PhoneParts() phone.Parts {
	return phone.Parts{AreaCode: l.AreaCode, Local: l.Phone, Secondary: l.SecondaryPhones}
}

// Source hands out leads that have not been messaged yet.
//
// FetchNext returns (nil, nil) when the backend has nothing to offer.
// MarkProcessed advances the lead's last-contacted timestamp so the backend
// stops offering it.
type Source interface {
	FetchNext(ctx context.Context) (*Lead, error)
	MarkProcessed(ctx context.Context, id ID, at time.Time) error
}
