package models

import "time"

type ConversationKind string

const (
	ConversationSupport          ConversationKind = "support"
	ConversationRestaurantThread ConversationKind = "restaurant_thread"
	ConversationGroupOrder       ConversationKind = "group_order"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case ConversationSupport, ConversationRestaurantThread, ConversationGroupOrder:
		return true
	}
	return false
}

type ParticipantRole string

const (
	RoleUser       ParticipantRole = "user"
	RoleAdmin      ParticipantRole = "admin"
	RoleRestaurant ParticipantRole = "restaurant"
)

type Participant struct {
	ID     string          `json:"id"`
	Role   ParticipantRole `json:"role"`
	Name   string          `json:"name"`
	Online bool            `json:"isOnline,omitempty"`
}

type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"type"`
	Participants []Participant    `json:"participants"`
	// LastMessage is a snapshot of the newest visible message.
	LastMessage *Message          `json:"lastMessage,omitempty"`
	UnreadCount int               `json:"unreadCount"`
	Active      bool              `json:"isActive"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := c.LastMessage.Clone()
		out.LastMessage = &lm
	}
	out.Metadata = cloneMap(c.Metadata)
	return out
}

// Participant returns the participant with the given id.
func (c *Conversation) Participant(id string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// SetParticipantOnline updates the online flag of a participant and reports
// whether anything changed.
func (c *Conversation) SetParticipantOnline(id string, online bool) bool {
	for i := range c.Participants {
		if c.Participants[i].ID == id {
			if c.Participants[i].Online == online {
				return false
			}
			c.Participants[i].Online = online
			return true
		}
	}
	return false
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
