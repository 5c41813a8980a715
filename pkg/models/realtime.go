package models

import "encoding/json"

type RealtimeKind string

const (
	RealtimeNewMessage    RealtimeKind = "new_message"
	RealtimeMessageUpdate RealtimeKind = "message_update"
	RealtimeTyping        RealtimeKind = "typing"
	RealtimePresence      RealtimeKind = "presence"
)

// RealtimeEvent is a pushed server event. Data holds the kind-specific payload
// undecoded; receivers decode it with the helpers below.
type RealtimeEvent struct {
	Kind           RealtimeKind    `json:"type"`
	ConversationID string          `json:"conversationId"`
	Data           json.RawMessage `json:"data"`
}

// MessageUpdate is the payload of a message_update event. Empty fields are
// left untouched on the local entry.
type MessageUpdate struct {
	ID       string            `json:"id"`
	Status   MessageStatus     `json:"status,omitempty"`
	Content  *string           `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type PresenceUpdate struct {
	UserID string `json:"userId"`
	Online bool   `json:"isOnline"`
}

// TypingUser is an entry of a conversation's typing list.
type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (e RealtimeEvent) DecodeMessage() (Message, error) {
	var m Message
	err := json.Unmarshal(e.Data, &m)
	if err == nil && m.ConversationID == "" {
		m.ConversationID = e.ConversationID
	}
	return m, err
}

func (e RealtimeEvent) DecodeUpdate() (MessageUpdate, error) {
	var u MessageUpdate
	err := json.Unmarshal(e.Data, &u)
	return u, err
}

func (e RealtimeEvent) DecodeTyping() (TypingIndicator, error) {
	var t TypingIndicator
	err := json.Unmarshal(e.Data, &t)
	if err == nil && t.ConversationID == "" {
		t.ConversationID = e.ConversationID
	}
	return t, err
}

func (e RealtimeEvent) DecodePresence() (PresenceUpdate, error) {
	var p PresenceUpdate
	err := json.Unmarshal(e.Data, &p)
	return p, err
}

// NewRealtimeEvent builds an event with a JSON-encoded payload.
func NewRealtimeEvent(kind RealtimeKind, conversationID string, payload any) (RealtimeEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return RealtimeEvent{}, err
	}
	return RealtimeEvent{Kind: kind, ConversationID: conversationID, Data: b}, nil
}
