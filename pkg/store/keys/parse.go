package keys

import (
	"fmt"
	"strings"
)

type KeyType string

const (
	TypeConversation KeyType = "conversation"
	TypeMessageList  KeyType = "message_list"
	TypeQueuedAction KeyType = "queued_action"
	TypeSchema       KeyType = "schema"
	TypeUnknown      KeyType = "unknown"
)

// KeyParts is the result of parsing a stored key.
type KeyParts struct {
	Type           KeyType
	ConversationID string
	ActionID       string
}

// ParseKey identifies a stored key and extracts its ids.
func ParseKey(key string) (KeyParts, error) {
	switch {
	case key == SchemaVersionKey:
		return KeyParts{Type: TypeSchema}, nil
	case strings.HasPrefix(key, QueuePrefix):
		id := strings.TrimPrefix(key, QueuePrefix)
		if err := ValidateID(id); err != nil {
			return KeyParts{Type: TypeUnknown}, fmt.Errorf("invalid queue key %q: %w", key, err)
		}
		return KeyParts{Type: TypeQueuedAction, ActionID: id}, nil
	case strings.HasPrefix(key, ConversationPrefix):
		rest := strings.TrimPrefix(key, ConversationPrefix)
		typ := TypeConversation
		if strings.HasSuffix(rest, messageListSuffix) {
			rest = strings.TrimSuffix(rest, messageListSuffix)
			typ = TypeMessageList
		}
		if err := ValidateID(rest); err != nil {
			return KeyParts{Type: TypeUnknown}, fmt.Errorf("invalid conversation key %q: %w", key, err)
		}
		return KeyParts{Type: typ, ConversationID: rest}, nil
	}
	return KeyParts{Type: TypeUnknown}, fmt.Errorf("unknown key format: %s", key)
}
