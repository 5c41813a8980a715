package models

import (
	"encoding/json"
	"time"
)

type ActionKind string

const (
	ActionSendMessage   ActionKind = "send_message"
	ActionDeleteMessage ActionKind = "delete_message"
	ActionMarkRead      ActionKind = "mark_read"
	ActionTyping        ActionKind = "typing"
)

// QueuedAction is a pending mutating operation owned by the offline queue.
type QueuedAction struct {
	ID             string          `json:"id"`
	Kind           ActionKind      `json:"kind"`
	ConversationID string          `json:"conversationId"`
	// ClientID links a send action to the optimistic message it delivers.
	ClientID      string          `json:"clientId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	NextAttemptAt time.Time       `json:"nextAttemptAt,omitempty"`
	// ExpiresAt is set for actions that are useless after a while (typing pings).
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

func (a *QueuedAction) Exhausted() bool {
	return a.Attempts >= a.MaxAttempts
}

func (a *QueuedAction) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

func (a QueuedAction) Clone() QueuedAction {
	out := a
	if a.Payload != nil {
		out.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return out
}

// DecodePayload unmarshals the action payload into v.
func (a *QueuedAction) DecodePayload(v any) error {
	return json.Unmarshal(a.Payload, v)
}

// DeletePayload is the payload of a delete-message action.
type DeletePayload struct {
	MessageID string `json:"messageId"`
}

// TypingPayload is the payload of a typing action.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}
