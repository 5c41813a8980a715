package models

// SendMessageRequest is the body of POST /messages. It doubles as the payload
// of queued send-message actions.
type SendMessageRequest struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"messageType"`
	MediaURL       string      `json:"mediaUrl,omitempty"`
	MediaThumbnail string      `json:"mediaThumbnail,omitempty"`
	MediaSize      int64       `json:"mediaSize,omitempty"`
	MediaDuration  float64     `json:"mediaDuration,omitempty"`
	ReplyTo        string      `json:"replyTo,omitempty"`
	// ClientID lets the server echo the temporary id on the pushed copy.
	ClientID string `json:"clientId,omitempty"`
}

// WithMedia copies a media reference into the request fields.
func (r *SendMessageRequest) WithMedia(m *Media) {
	if m == nil {
		return
	}
	r.MediaURL = m.URL
	r.MediaThumbnail = m.ThumbnailURL
	r.MediaSize = m.Size
	r.MediaDuration = m.Duration
}

// MarkReadRequest is the body of POST /messages/read and the payload of
// mark-read actions.
type MarkReadRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// TypingRequest is the body of POST /typing.
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// CreateConversationRequest is the body of POST /conversations.
type CreateConversationRequest struct {
	Kind         ConversationKind  `json:"type"`
	Participants []Participant     `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MessagePage is one page of GET /conversations/{id}/messages. Messages are
// ordered oldest first; page 1 holds the most recent messages.
type MessagePage struct {
	Messages []Message `json:"data"`
	Page     int       `json:"page"`
	HasMore  bool      `json:"hasMore"`
}
