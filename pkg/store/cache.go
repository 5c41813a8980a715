// Package store persists the local conversation cache and the offline queue.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/keys"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/kv"
)

// SchemaVersion is bumped whenever the persisted JSON shapes change.
const SchemaVersion = 1

var ErrSchemaMismatch = errors.New("store: persisted schema version mismatch")

// Cache stores conversations, message lists and queued actions as JSON
// documents on a kv.KV.
type Cache struct {
	kv kv.KV
}

func NewCache(s kv.KV) *Cache {
	if s == nil {
		panic("store: nil kv")
	}
	return &Cache{kv: s}
}

func (c *Cache) KV() kv.KV { return c.kv }

func (c *Cache) Close() error { return c.kv.Close() }

// checks the persisted schema version, writing it on first use
func (c *Cache) EnsureSchema() error {
	v, err := c.kv.Get(keys.SchemaVersionKey)
	if kv.IsNotFound(err) {
		return c.kv.Set(keys.SchemaVersionKey, []byte(strconv.Itoa(SchemaVersion)))
	}
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil || n != SchemaVersion {
		logger.Error("schema_mismatch", "found", string(v), "expected", SchemaVersion)
		return fmt.Errorf("%w: found %q, expected %d", ErrSchemaMismatch, v, SchemaVersion)
	}
	return nil
}

// saves conversation metadata
func (c *Cache) SaveConversation(conv models.Conversation) error {
	if err := keys.ValidateID(conv.ID); err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", conv.ID, err)
	}
	return c.put(keys.GenConversationKey(conv.ID), conv)
}

// gets one conversation
func (c *Cache) Conversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.get(keys.GenConversationKey(id), &conv)
	return conv, err
}

// lists every persisted conversation in key order
func (c *Cache) Conversations() ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.kv.Iterate(keys.ConversationPrefix, func(k string, v []byte) error {
		parts, err := keys.ParseKey(k)
		if err != nil {
			logger.Warn("skip_unknown_key", "key", k, "error", err)
			return nil
		}
		if parts.Type != keys.TypeConversation {
			return nil
		}
		var conv models.Conversation
		if err := json.Unmarshal(v, &conv); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, conv)
		return nil
	})
	return out, err
}

// replaces the message list of a conversation
func (c *Cache) SaveMessages(convID string, msgs []models.Message) error {
	if err := keys.ValidateID(convID); err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", convID, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.put(keys.GenMessageListKey(convID), msgs)
}

// gets the message list of a conversation; missing lists are empty
func (c *Cache) Messages(convID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.get(keys.GenMessageListKey(convID), &msgs)
	if kv.IsNotFound(err) {
		return nil, nil
	}
	return msgs, err
}

func (c *Cache) SaveAction(a *models.QueuedAction) error {
	if err := keys.ValidateID(a.ID); err != nil {
		return fmt.Errorf("invalid action id %q: %w", a.ID, err)
	}
	return c.put(keys.GenQueuedActionKey(a.ID), a)
}

func (c *Cache) DeleteAction(id string) error {
	return c.kv.Delete(keys.GenQueuedActionKey(id))
}

// lists queued actions in id order, which is submission order
func (c *Cache) Actions() ([]*models.QueuedAction, error) {
	var out []*models.QueuedAction
	err := c.kv.Iterate(keys.QueuePrefix, func(k string, v []byte) error {
		var a models.QueuedAction
		if err := json.Unmarshal(v, &a); err != nil {
			logger.Warn("skip_corrupt_action", "key", k, "error", err)
			return nil
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (c *Cache) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.kv.Set(key, b)
}

func (c *Cache) get(key string, v any) error {
	b, err := c.kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
