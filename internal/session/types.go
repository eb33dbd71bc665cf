// Package session holds per-caller conversation state and the stores
// that keep it between turns.
package session

import (
	"context"
	"time"

	"github.com/avvvet/taxline-intent/internal/script"
)

// Slot names filled by capture states.
const (
	SlotName  = "name"
	SlotEmail = "email"
	SlotPhone = "phone"
)

// ContactDetails are the caller-supplied slots. Empty means not collected.
type ContactDetails struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Get returns the value of a named slot.
func (c ContactDetails) Get(slot string) string {
	switch slot {
	case SlotName:
		return c.Name
	case SlotEmail:
		return c.Email
	case SlotPhone:
		return c.Phone
	}
	return ""
}

// Set assigns a named slot. Unknown slot names are ignored.
func (c *ContactDetails) Set(slot, value string) {
	switch slot {
	case SlotName:
		c.Name = value
	case SlotEmail:
		c.Email = value
	case SlotPhone:
		c.Phone = value
	}
}

// Slots returns the collected values keyed by slot name, for templates.
func (c ContactDetails) Slots() map[string]string {
	return map[string]string{
		SlotName:  c.Name,
		SlotEmail: c.Email,
		SlotPhone: c.Phone,
	}
}

// ConversationState is one caller's progress through the script.
type ConversationState struct {
	SessionID        string                `json:"session_id"`
	CurrentState     script.State          `json:"current_state"`
	LastPromptKey    string                `json:"last_prompt_key"`
	SilenceCount     int                   `json:"silence_count"`
	IntentCounts     map[script.Intent]int `json:"intent_counts"`
	Contact          ContactDetails        `json:"contact"`
	ContactRequested bool                  `json:"contact_requested"`
	Turns            int                   `json:"turns"`
	StartedAt        time.Time             `json:"started_at"`
	LastActivity     time.Time             `json:"last_activity"`
}

// New creates a fresh conversation positioned at the script's initial
// state with the opening prompt as its last prompt.
func New(sessionID string, s *script.Script) *ConversationState {
	now := time.Now()
	return &ConversationState{
		SessionID:     sessionID,
		CurrentState:  s.InitialState,
		LastPromptKey: s.Opening,
		IntentCounts:  make(map[script.Intent]int),
		StartedAt:     now,
		LastActivity:  now,
	}
}

// Clone returns a deep copy.
func (c *ConversationState) Clone() *ConversationState {
	if c == nil {
		return nil
	}
	cp := *c
	cp.IntentCounts = make(map[script.Intent]int, len(c.IntentCounts))
	for k, v := range c.IntentCounts {
		cp.IntentCounts[k] = v
	}
	return &cp
}

// Store keeps ConversationState between turns. Get returns nil, nil for
// a session that does not exist. Implementations must be safe for
// concurrent use across distinct session ids; callers serialize access
// to any single id.
type Store interface {
	Get(ctx context.Context, sessionID string) (*ConversationState, error)
	Put(ctx context.Context, state *ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}
