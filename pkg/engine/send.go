package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/media"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/queue"
)

// SendText inserts an optimistic message and delivers it. Delivery failures
// do not surface here: the message ends up sent, queued (still sending) or
// failed.
func (e *Engine) SendText(ctx context.Context, convID, content, replyTo string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	msg, err := e.insertOptimistic(convID, models.KindText, content, nil, replyTo)
	if err != nil {
		return err
	}
	e.notifySent(ctx, convID)
	e.dispatch(ctx, e.sendAction(msg, 0))
	return nil
}

// SendMedia shows localFile as a placeholder, runs the media pipeline and
// sends the message with the uploaded reference. The temporary id is
// announced by the message_added event before the upload starts, so callers
// can abandon it meanwhile.
func (e *Engine) SendMedia(ctx context.Context, convID, localFile string, kind models.MessageKind, replyTo string, progress media.ProgressFunc) (string, error) {
	if !kind.IsMedia() {
		return "", ErrNotMedia
	}
	if localFile == "" {
		return "", ErrEmptyMessage
	}
	if e.opts.Media == nil {
		return "", ErrNotMedia
	}
	msg, err := e.insertOptimistic(convID, kind, "", &models.Media{URL: localFile}, replyTo)
	if err != nil {
		return "", err
	}
	e.notifySent(ctx, convID)
	e.uploadAndSend(ctx, msg, localFile, progress)
	return msg.ID, nil
}

// AbandonMedia drops a placeholder whose upload has not completed. A later
// upload completion is discarded.
func (e *Engine) AbandonMedia(convID, tempID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return
	}
	key, ent, ok := cs.lookup(tempID)
	if !ok {
		return
	}
	if _, pending := ent.ident.(models.Pending); !pending || !isLocalMedia(ent.msg.Media) {
		logger.Debug("media_abandon_ignored", "conversation", convID, "temp_id", tempID)
		return
	}
	cs.remove(key)
	e.touchLocked(cs)
	e.publish(events.Event{Kind: events.MessageRemoved, ConversationID: convID, MessageID: tempID})
	logger.Info("media_abandoned", "conversation", convID, "temp_id", tempID)
}

// RetryMessage moves a failed message back to sending and delivers it with a
// fresh attempt budget. Media whose upload never completed is uploaded again.
func (e *Engine) RetryMessage(ctx context.Context, convID, messageID string) error {
	e.mu.Lock()
	cs, ok := e.convs[convID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownConversation
	}
	_, ent, ok := cs.lookup(messageID)
	if !ok {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	if _, pending := ent.ident.(models.Pending); !pending || ent.msg.Status != models.StatusFailed {
		e.mu.Unlock()
		return ErrNotRetryable
	}
	ent.msg.Status = models.StatusSending
	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageUpdated, ent)
	msg := ent.msg.Clone()
	e.mu.Unlock()

	e.opts.Queue.CancelForClient(msg.ID)
	logger.Info("message_retry", "conversation", convID, "temp_id", msg.ID)
	if msg.Kind.IsMedia() && isLocalMedia(msg.Media) {
		if e.opts.Media == nil {
			e.markFailed(convID, msg.ID, ErrNotMedia)
			return nil
		}
		e.uploadAndSend(ctx, msg, msg.Media.URL, nil)
		return nil
	}
	e.dispatch(ctx, e.sendAction(msg, 0))
	return nil
}

// DeleteMessage removes the message locally and deletes it remotely. The
// local removal is never rolled back. A message still pending is never sent:
// its queued send is cancelled, and a copy confirmed afterwards is deleted.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	e.mu.Lock()
	var (
		cs  *convState
		key string
		ent *entry
	)
	for _, c := range e.convs {
		if k, en, ok := c.lookup(messageID); ok {
			cs, key, ent = c, k, en
			break
		}
	}
	if ent == nil {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	cs.remove(key)
	_, pending := ent.ident.(models.Pending)
	if pending && ent.msg.Status == models.StatusSending {
		cs.deleted[ent.msg.ID] = true
	}
	e.touchLocked(cs)
	e.publish(events.Event{Kind: events.MessageRemoved, ConversationID: cs.conv.ID, MessageID: ent.msg.ID})
	convID, id := cs.conv.ID, ent.msg.ID
	e.mu.Unlock()

	if pending {
		n := e.opts.Queue.CancelForClient(id)
		logger.Debug("pending_message_deleted", "conversation", convID, "temp_id", id, "cancelled", n)
		return nil
	}
	e.dispatch(ctx, newAction(models.ActionDeleteMessage, convID, "", models.DeletePayload{MessageID: id}))
	return nil
}

// MarkConversationRead marks exactly the given messages read, resets the
// unread counter and sends the read receipt. Messages not yet accepted by
// the server are left alone: nobody can have read them.
func (e *Engine) MarkConversationRead(ctx context.Context, convID string, messageIDs []string) error {
	e.mu.Lock()
	cs, ok := e.convs[convID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownConversation
	}
	var serverIDs []string
	for _, id := range messageIDs {
		_, ent, ok := cs.lookup(id)
		if !ok {
			logger.Debug("mark_read_unknown_message", "conversation", convID, "id", id)
			continue
		}
		if _, pending := ent.ident.(models.Pending); pending {
			logger.Debug("mark_read_pending_message", "conversation", convID, "id", id)
			continue
		}
		if st, changed := models.AdvanceStatus(ent.msg.Status, models.StatusRead); changed {
			ent.msg.Status = st
			e.publishMessageLocked(events.MessageUpdated, ent)
		}
		serverIDs = append(serverIDs, ent.msg.ID)
	}
	cs.conv.UnreadCount = 0
	e.touchLocked(cs)
	e.publishConversationLocked(cs)
	e.mu.Unlock()

	if len(serverIDs) == 0 {
		return nil
	}
	e.dispatch(ctx, newAction(models.ActionMarkRead, convID, "",
		models.MarkReadRequest{ConversationID: convID, MessageIDs: serverIDs}))
	return nil
}

// SendTyping delivers the local user's typing state. Pings are dropped when
// they fail directly and expire when they wait in the queue.
func (e *Engine) SendTyping(ctx context.Context, convID string, isTyping bool) {
	e.mu.Lock()
	_, ok := e.convs[convID]
	e.mu.Unlock()
	if !ok {
		logger.Debug("typing_unknown_conversation", "conversation", convID)
		return
	}
	a := newAction(models.ActionTyping, convID, "", models.TypingPayload{IsTyping: isTyping})
	a.ExpiresAt = e.opts.Now().Add(e.opts.TypingTTL)
	e.dispatch(ctx, a)
}

func (e *Engine) insertOptimistic(convID string, kind models.MessageKind, content string, m *models.Media, replyTo string) (models.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return models.Message{}, ErrUnknownConversation
	}
	now := e.opts.Now()
	msg := models.Message{
		ID:             models.NewTempID(),
		ConversationID: convID,
		SenderID:       e.opts.Self.ID,
		SenderRole:     e.opts.Self.Role,
		SenderName:     e.opts.Self.Name,
		Content:        content,
		Kind:           kind,
		Media:          m,
		Timestamp:      now,
		Status:         models.StatusSending,
		ReplyTo:        replyTo,
	}
	ent := &entry{ident: models.Pending{TempID: msg.ID}, msg: msg, at: now, seq: e.nextSeq()}
	cs.insert(msg.ID, ent)
	cs.conv.UpdatedAt = now
	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageAdded, ent)
	return msg.Clone(), nil
}

func (e *Engine) uploadAndSend(ctx context.Context, msg models.Message, localFile string, progress media.ProgressFunc) {
	report := func(pct int, phase media.Phase, info *media.OptimizationInfo) {
		if phase != media.PhaseFailed {
			p := &events.Progress{TempID: msg.ID, Percent: pct, Phase: string(phase)}
			if info != nil {
				p.Info = *info
			}
			e.publish(events.Event{Kind: events.MediaProgress, ConversationID: msg.ConversationID, MessageID: msg.ID, Progress: p})
		}
		if progress != nil {
			progress(pct, phase, info)
		}
	}
	uploaded, err := e.opts.Media.Run(ctx, localFile, msg.Kind, report)
	if err != nil {
		e.publish(events.Event{
			Kind:           events.MediaProgress,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Progress:       &events.Progress{TempID: msg.ID, Phase: string(media.PhaseFailed)},
			Err:            err,
		})
		e.markFailed(msg.ConversationID, msg.ID, err)
		return
	}

	e.mu.Lock()
	cs := e.convs[msg.ConversationID]
	var ent *entry
	if cs != nil {
		_, ent, _ = cs.lookup(msg.ID)
	}
	if ent == nil {
		e.mu.Unlock()
		logger.Info("media_upload_discarded", "conversation", msg.ConversationID, "temp_id", msg.ID, "url", uploaded.URL)
		return
	}
	ent.msg.Media = uploaded
	e.touchLocked(cs)
	e.publishMessageLocked(events.MessageUpdated, ent)
	sent := ent.msg.Clone()
	e.mu.Unlock()

	e.dispatch(ctx, e.sendAction(sent, 0))
}

func (e *Engine) sendAction(msg models.Message, attempts int) *models.QueuedAction {
	req := models.SendMessageRequest{
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Kind:           msg.Kind,
		ReplyTo:        msg.ReplyTo,
		ClientID:       msg.ID,
	}
	req.WithMedia(msg.Media)
	a := newAction(models.ActionSendMessage, msg.ConversationID, msg.ID, req)
	a.Attempts = attempts
	return a
}

func newAction(kind models.ActionKind, convID, clientID string, payload any) *models.QueuedAction {
	raw, err := json.Marshal(payload)
	if err != nil {
		// payloads are plain structs
		panic(err)
	}
	return &models.QueuedAction{Kind: kind, ConversationID: convID, ClientID: clientID, Payload: raw}
}

// dispatch delivers an action directly when online with an empty queue, and
// through the queue otherwise so a user's actions keep their order.
func (e *Engine) dispatch(ctx context.Context, a *models.QueuedAction) {
	if !e.Online() || e.opts.Queue.Len() > 0 {
		e.enqueue(a, nil)
		return
	}
	err := e.ExecuteAction(ctx, *a)
	switch {
	case err == nil:
		if a.Kind == models.ActionSendMessage {
			e.opts.Metrics.MessageSent("direct")
		}
	case ctx.Err() != nil:
		// the caller went away; the attempt does not count
		e.enqueue(a, nil)
	case a.Kind == models.ActionTyping:
		logger.Debug("typing_ping_dropped", "conversation", a.ConversationID, "error", err)
	case e.opts.IsRetryable(err):
		a.Attempts = 1
		a.LastError = err.Error()
		e.enqueue(a, err)
	default:
		e.ActionFailed(*a, err)
	}
}

// enqueue hands the action to the queue. cause is the error of a direct
// attempt; it is reported when that attempt used up the whole budget.
func (e *Engine) enqueue(a *models.QueuedAction, cause error) {
	if _, err := e.opts.Queue.Enqueue(a); err != nil {
		if cause != nil && errors.Is(err, queue.ErrExhausted) {
			err = cause
		}
		e.ActionFailed(*a, err)
		return
	}
	if a.Kind == models.ActionSendMessage {
		e.opts.Metrics.MessageSent("queued")
	}
}
