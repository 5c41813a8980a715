package engine

import (
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

// IngestRealtimeEvent applies a pushed event. A new message whose id is
// already held, under its server or its temporary id, is dropped.
func (e *Engine) IngestRealtimeEvent(ev models.RealtimeEvent) {
	switch ev.Kind {
	case models.RealtimeNewMessage:
		e.ingestNewMessage(ev)
	case models.RealtimeMessageUpdate:
		e.ingestUpdate(ev)
	case models.RealtimeTyping, models.RealtimePresence:
		if e.opts.Presence != nil {
			e.opts.Presence.IngestRealtimeEvent(ev)
		}
	default:
		logger.Debug("realtime_event_ignored", "type", string(ev.Kind), "conversation", ev.ConversationID)
	}
}

func (e *Engine) ingestNewMessage(ev models.RealtimeEvent) {
	m, err := ev.DecodeMessage()
	if err != nil || m.ID == "" {
		logger.Warn("realtime_message_invalid", "conversation", ev.ConversationID, "error", err)
		e.opts.Metrics.RealtimeEvent(string(ev.Kind), "invalid")
		return
	}

	e.mu.Lock()
	cs := e.ensureConvLocked(m.ConversationID)
	if _, _, dup := cs.lookup(m.ID); dup {
		e.mu.Unlock()
		e.opts.Metrics.RealtimeEvent(string(ev.Kind), "duplicate")
		return
	}
	added, orphan := e.mergeServerLocked(cs, m)
	if added {
		if m.SenderID != e.opts.Self.ID {
			cs.conv.UnreadCount++
		}
		if m.Timestamp.After(cs.conv.UpdatedAt) {
			cs.conv.UpdatedAt = m.Timestamp
		}
		e.touchLocked(cs)
		e.publishConversationLocked(cs)
	}
	e.mu.Unlock()

	if orphan != "" {
		e.deleteOrphan(m.ConversationID, orphan)
	}
}

func (e *Engine) ingestUpdate(ev models.RealtimeEvent) {
	u, err := ev.DecodeUpdate()
	if err != nil || u.ID == "" {
		logger.Warn("realtime_update_invalid", "conversation", ev.ConversationID, "error", err)
		e.opts.Metrics.RealtimeEvent(string(ev.Kind), "invalid")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[ev.ConversationID]
	if !ok {
		return
	}
	_, ent, ok := cs.lookup(u.ID)
	if !ok {
		logger.Debug("realtime_update_unknown_message", "conversation", ev.ConversationID, "id", u.ID)
		return
	}
	changed := false
	if u.Status != "" {
		if st, ok := models.AdvanceStatus(ent.msg.Status, u.Status); ok {
			ent.msg.Status = st
			changed = true
		}
	}
	if u.Content != nil && *u.Content != ent.msg.Content {
		ent.msg.Content = *u.Content
		changed = true
	}
	if len(u.Metadata) > 0 {
		if ent.msg.Metadata == nil {
			ent.msg.Metadata = make(map[string]string, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			ent.msg.Metadata[k] = v
		}
		changed = true
	}
	if !changed {
		return
	}
	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageUpdated, ent)
}

// deleteOrphan removes the server copy of a message the user deleted while
// it was still sending.
func (e *Engine) deleteOrphan(convID, serverID string) {
	logger.Info("orphan_message_delete", "conversation", convID, "id", serverID)
	e.enqueue(newAction(models.ActionDeleteMessage, convID, "", models.DeletePayload{MessageID: serverID}), nil)
}
