package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

// entry is one logical message. Its key in convState.entries never changes;
// ident moves from Pending to Confirmed in place.
type entry struct {
	ident models.Identity
	msg   models.Message
	// at and seq order the list; both are fixed at insertion
	at  time.Time
	seq uint64
}

type convState struct {
	conv    models.Conversation
	entries map[string]*entry
	// aliases maps temporary and server ids onto the entry key
	aliases map[string]string
	// deleted holds temporary ids of messages deleted while still sending
	deleted map[string]bool
	// loaded is set once the conversation held local messages
	loaded  bool
	page    int
	hasMore bool
}

func newConvState(c models.Conversation) *convState {
	return &convState{
		conv:    c,
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
		deleted: make(map[string]bool),
	}
}

func (cs *convState) lookup(id string) (string, *entry, bool) {
	key, ok := cs.aliases[id]
	if !ok {
		return "", nil, false
	}
	ent, ok := cs.entries[key]
	return key, ent, ok
}

func (cs *convState) insert(key string, ent *entry) {
	cs.entries[key] = ent
	cs.aliases[ent.msg.ID] = key
	if ent.msg.ClientID != "" {
		cs.aliases[ent.msg.ClientID] = key
	}
	cs.loaded = true
}

func (cs *convState) remove(key string) *entry {
	ent, ok := cs.entries[key]
	if !ok {
		return nil
	}
	delete(cs.entries, key)
	for id, k := range cs.aliases {
		if k == key {
			delete(cs.aliases, id)
		}
	}
	return ent
}

func (cs *convState) ordered() []*entry {
	out := make([]*entry, 0, len(cs.entries))
	for _, ent := range cs.entries {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (cs *convState) messages() []models.Message {
	ents := cs.ordered()
	out := make([]models.Message, len(ents))
	for i, ent := range ents {
		out[i] = ent.msg.Clone()
	}
	return out
}

// refreshLastMessage points the conversation snapshot at the newest entry.
// A conversation that never held local messages keeps the server snapshot.
func (cs *convState) refreshLastMessage() {
	ents := cs.ordered()
	if len(ents) == 0 {
		if cs.loaded {
			cs.conv.LastMessage = nil
		}
		return
	}
	last := ents[len(ents)-1].msg.Clone()
	cs.conv.LastMessage = &last
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// ensureConvLocked returns the conversation, creating a stub for ids first
// seen through pushed events.
func (e *Engine) ensureConvLocked(id string) *convState {
	if cs, ok := e.convs[id]; ok {
		return cs
	}
	now := e.opts.Now()
	cs := newConvState(models.Conversation{ID: id, Active: true, CreatedAt: now, UpdatedAt: now})
	e.convs[id] = cs
	logger.Info("conversation_discovered", "conversation", id)
	return cs
}

// touchLocked refreshes derived fields and writes the conversation through.
func (e *Engine) touchLocked(cs *convState) {
	cs.refreshLastMessage()
	e.persistLocked(cs)
}

func (e *Engine) persistLocked(cs *convState) {
	if err := e.opts.Cache.SaveConversation(cs.conv); err != nil {
		logger.Error("conversation_persist_failed", "conversation", cs.conv.ID, "error", err)
		return
	}
	if !cs.loaded {
		return
	}
	if err := e.opts.Cache.SaveMessages(cs.conv.ID, cs.messages()); err != nil {
		logger.Error("messages_persist_failed", "conversation", cs.conv.ID, "error", err)
	}
}

func (e *Engine) publishMessageLocked(kind events.Kind, ent *entry) {
	m := ent.msg.Clone()
	e.publish(events.Event{Kind: kind, ConversationID: m.ConversationID, MessageID: m.ID, Message: &m})
}

func (e *Engine) publishConversationLocked(cs *convState) {
	c := cs.conv.Clone()
	e.publish(events.Event{Kind: events.ConversationUpdated, ConversationID: c.ID, Conversation: &c})
}

func (e *Engine) markOnlineLocked(c *models.Conversation) {
	if e.opts.Presence == nil {
		return
	}
	for i := range c.Participants {
		if e.opts.Presence.IsOnline(c.Participants[i].ID) {
			c.Participants[i].Online = true
		}
	}
}

// higherStatus returns the more advanced of two delivery statuses, ignoring
// failed.
func higherStatus(a, b models.MessageStatus) models.MessageStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// confirmLocked turns a pending entry into the server-confirmed message. A
// separate entry already holding the server id (pushed before the
// acknowledgement) is folded in, keeping the higher status.
func (e *Engine) confirmLocked(cs *convState, key string, ent *entry, server models.Message) {
	pending, ok := ent.ident.(models.Pending)
	if !ok {
		if st, changed := models.AdvanceStatus(ent.msg.Status, server.Status); changed && server.Status != "" {
			ent.msg.Status = st
			e.publishMessageLocked(events.MessageUpdated, ent)
		}
		return
	}

	status := higherStatus(higherStatus(models.StatusSent, server.Status), ent.msg.Status)
	if otherKey, ok := cs.aliases[server.ID]; ok && otherKey != key {
		if other := cs.remove(otherKey); other != nil {
			status = higherStatus(status, other.msg.Status)
			e.publish(events.Event{Kind: events.MessageRemoved, ConversationID: cs.conv.ID, MessageID: server.ID})
		}
	}

	if server.ConversationID == "" {
		server.ConversationID = cs.conv.ID
	}
	if server.SenderID == "" {
		server.SenderID, server.SenderName, server.SenderRole = ent.msg.SenderID, ent.msg.SenderName, ent.msg.SenderRole
	}
	if server.Media == nil && ent.msg.Media != nil {
		server.Media = ent.msg.Media
	}
	if server.Timestamp.IsZero() {
		server.Timestamp = ent.msg.Timestamp
	}
	server.ClientID = pending.TempID
	server.Status = status

	ent.ident = models.Confirmed{ServerID: server.ID, TempID: pending.TempID}
	ent.msg = server
	cs.aliases[server.ID] = key
	delete(cs.deleted, pending.TempID)

	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageUpdated, ent)
	logger.Debug("message_confirmed", "conversation", cs.conv.ID, "temp_id", pending.TempID, "id", server.ID)
}

// mergeServerLocked folds one server message into the conversation. It
// returns the id of a server copy whose local message was deleted while
// sending; the caller deletes it remotely.
func (e *Engine) mergeServerLocked(cs *convState, m models.Message) (added bool, orphan string) {
	if m.ConversationID == "" {
		m.ConversationID = cs.conv.ID
	}
	if m.Status == "" {
		m.Status = models.StatusSent
	}
	if _, ent, ok := cs.lookup(m.ID); ok {
		if st, changed := models.AdvanceStatus(ent.msg.Status, m.Status); changed {
			ent.msg.Status = st
			e.publishMessageLocked(events.MessageUpdated, ent)
		}
		return false, ""
	}
	if m.ClientID != "" {
		if cs.deleted[m.ClientID] {
			delete(cs.deleted, m.ClientID)
			return false, m.ID
		}
		if key, ent, ok := cs.lookup(m.ClientID); ok {
			e.confirmLocked(cs, key, ent, m)
			return false, ""
		}
	}
	at := m.Timestamp
	if at.IsZero() {
		at = e.opts.Now()
	}
	ent := &entry{ident: models.Confirmed{ServerID: m.ID, TempID: m.ClientID}, msg: m, at: at, seq: e.nextSeq()}
	cs.insert(m.ID, ent)
	e.publishMessageLocked(events.MessageAdded, ent)
	return true, ""
}

// markFailed moves a still-sending message to failed.
func (e *Engine) markFailed(convID, tempID string, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return
	}
	_, ent, ok := cs.lookup(tempID)
	if !ok {
		return
	}
	if _, pending := ent.ident.(models.Pending); !pending {
		return
	}
	st, changed := models.AdvanceStatus(ent.msg.Status, models.StatusFailed)
	if !changed {
		return
	}
	ent.msg.Status = st
	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageUpdated, ent)
	logger.Warn("message_failed", "conversation", convID, "temp_id", tempID, "error", cause)
}

// isLocalMedia reports whether a media URL still points at the local file
// of an upload that has not completed.
func isLocalMedia(m *models.Media) bool {
	if m == nil {
		return false
	}
	return !strings.HasPrefix(m.URL, "http://") && !strings.HasPrefix(m.URL, "https://")
}
