// Package session keeps per-conversation state in a TTL key-value store.
// Sessions expire on their own after five minutes of silence; completing a
// conversation shortens the leash to a short grace window instead of deleting
// outright, so a trailing "thank you" still finds its context.
package session

import (
	"time"

	"github.com/harunnryd/khata/pkg/nlu"
)

// Status values for a session lifecycle.
const (
	StatusActive               = "ACTIVE"
	StatusAwaitingConfirmation = "AWAITING_CONFIRMATION"
	StatusCompleted            = "COMPLETED"
)

// Turn is one utterance in the conversation, either side.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// PendingAction is a parsed mutating intent parked behind a confirmation
// question.
type PendingAction struct {
	Parse      nlu.ParseResult `json:"parse"`
	Reason     string          `json:"reason"`
	CustomerID int64           `json:"customer_id,omitempty"`
}

// Session is the JSON document stored per conversation.
type Session struct {
	ID           string         `json:"id"`
	BusinessID   int64          `json:"business_id"`
	UserID       string         `json:"user_id,omitempty"`
	Status       string         `json:"status"`
	Turns        []Turn         `json:"turns,omitempty"`
	ParsedState  map[string]any `json:"parsed_state,omitempty"`
	Pending      *PendingAction `json:"pending,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// Context projects the session into what the parser needs.
func (s *Session) Context() nlu.TurnContext {
	tc := nlu.TurnContext{ParsedState: s.ParsedState}
	for _, t := range s.Turns {
		tc.Turns = append(tc.Turns, nlu.ContextTurn{Role: t.Role, Text: t.Text})
	}
	return tc
}
