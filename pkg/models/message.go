package models

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// IsMedia reports whether messages of this kind carry a media reference.
func (k MessageKind) IsMedia() bool {
	return k == KindImage || k == KindVideo || k == KindFile
}

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders the delivery statuses; failed and unknown values rank -1.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// AdvanceStatus applies next on top of cur and returns the resulting status
// and whether it changed. The machine is
//
//	sending -> {sent -> delivered -> read} | failed
//
// with sent/delivered/read only moving forward. failed -> sending happens
// through explicit retry only and is not accepted here.
func AdvanceStatus(cur, next MessageStatus) (MessageStatus, bool) {
	if cur == next {
		return cur, false
	}
	switch {
	case next == StatusFailed:
		if cur == StatusSending {
			return StatusFailed, true
		}
		return cur, false
	case cur == StatusFailed:
		// a server-side status for a failed local entry means it did land
		if next.Rank() >= StatusSent.Rank() {
			return next, true
		}
		return cur, false
	case next.Rank() > cur.Rank():
		return next, true
	}
	return cur, false
}

type Media struct {
	URL          string  `json:"url"`
	ThumbnailURL string  `json:"thumbnail,omitempty"`
	Size         int64   `json:"size,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
}

type Message struct {
	ID string `json:"id"`
	// ClientID is the temporary id the message was created with locally.
	ClientID       string            `json:"clientId,omitempty"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	SenderRole     ParticipantRole   `json:"senderRole"`
	SenderName     string            `json:"senderName"`
	Content        string            `json:"content"`
	Kind           MessageKind       `json:"messageType"`
	Media          *Media            `json:"media,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         MessageStatus     `json:"status"`
	ReplyTo        string            `json:"replyTo,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (m Message) Clone() Message {
	out := m
	if m.Media != nil {
		md := *m.Media
		out.Media = &md
	}
	out.Metadata = cloneMap(m.Metadata)
	return out
}

// Identity is the reconciliation state of a locally held message: either
// Pending (only a temporary id exists) or Confirmed (the server assigned an id).
type Identity interface {
	// ID is the id readers see for the message.
	ID() string
	isIdentity()
}

type Pending struct {
	TempID string
}

func (p Pending) ID() string { return p.TempID }
func (Pending) isIdentity()  {}

type Confirmed struct {
	ServerID string
	// TempID is empty for messages that were never pending locally.
	TempID string
}

func (c Confirmed) ID() string { return c.ServerID }
func (Confirmed) isIdentity()  {}
