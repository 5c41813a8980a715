package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

// ExecuteAction performs one action against the API and applies the result
// locally. It serves both direct delivery and queue replay.
func (e *Engine) ExecuteAction(ctx context.Context, a models.QueuedAction) error {
	switch a.Kind {
	case models.ActionSendMessage:
		var req models.SendMessageRequest
		if err := a.DecodePayload(&req); err != nil {
			return fmt.Errorf("decode send payload: %w", err)
		}
		if !e.stillSending(a.ConversationID, a.ClientID) {
			logger.Debug("send_skipped", "conversation", a.ConversationID, "temp_id", a.ClientID)
			return nil
		}
		msg, err := e.opts.API.SendMessage(ctx, req)
		if err != nil {
			return err
		}
		if msg == nil || msg.ID == "" {
			return fmt.Errorf("%w: send acknowledgement without id", transport.ErrInvalidResponse)
		}
		e.confirm(a.ConversationID, a.ClientID, *msg)
		return nil

	case models.ActionDeleteMessage:
		var p models.DeletePayload
		if err := a.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		err := e.opts.API.DeleteMessage(ctx, p.MessageID)
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return err

	case models.ActionMarkRead:
		var req models.MarkReadRequest
		if err := a.DecodePayload(&req); err != nil {
			return fmt.Errorf("decode mark-read payload: %w", err)
		}
		return e.opts.API.MarkRead(ctx, req)

	case models.ActionTyping:
		var p models.TypingPayload
		if err := a.DecodePayload(&p); err != nil {
			return fmt.Errorf("decode typing payload: %w", err)
		}
		return e.opts.API.SendTyping(ctx, models.TypingRequest{ConversationID: a.ConversationID, IsTyping: p.IsTyping})
	}
	return fmt.Errorf("unknown action kind %q", a.Kind)
}

// ActionFailed is called for actions given up on: rejected, exhausted or not
// storable. A send marks its message failed.
func (e *Engine) ActionFailed(a models.QueuedAction, err error) {
	if a.Kind == models.ActionSendMessage {
		e.markFailed(a.ConversationID, a.ClientID, err)
		e.opts.Metrics.MessageSent("failed")
	}
	logger.Warn("action_failed", "action", a.ID, "kind", a.Kind, "conversation", a.ConversationID,
		"attempts", a.Attempts, "error", err)
	failed := a.Clone()
	e.publish(events.Event{Kind: events.ActionFailed, ConversationID: a.ConversationID, MessageID: a.ClientID, Action: &failed, Err: err})
}

// stillSending reports whether a send is still wanted: the message exists
// and has not been confirmed by another path.
func (e *Engine) stillSending(convID, tempID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return false
	}
	_, ent, ok := cs.lookup(tempID)
	if !ok {
		return false
	}
	_, pending := ent.ident.(models.Pending)
	return pending
}

// confirm applies a send acknowledgement.
func (e *Engine) confirm(convID, tempID string, server models.Message) {
	e.mu.Lock()
	cs, ok := e.convs[convID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if cs.deleted[tempID] {
		delete(cs.deleted, tempID)
		e.mu.Unlock()
		e.deleteOrphan(convID, server.ID)
		return
	}
	key, ent, ok := cs.lookup(tempID)
	if !ok {
		e.mu.Unlock()
		logger.Debug("confirmation_discarded", "conversation", convID, "temp_id", tempID, "id", server.ID)
		return
	}
	e.confirmLocked(cs, key, ent, server)
	e.mu.Unlock()
}
