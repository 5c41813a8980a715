package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

// Restore loads the persisted cache. Messages left sending without a queued
// send are marked failed: their delivery was interrupted.
func (e *Engine) Restore() error {
	convs, err := e.opts.Cache.Conversations()
	if err != nil {
		return fmt.Errorf("restore conversations: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stale := 0
	for _, c := range convs {
		msgs, err := e.opts.Cache.Messages(c.ID)
		if err != nil {
			return fmt.Errorf("restore messages of %s: %w", c.ID, err)
		}
		cs := newConvState(c)
		dirty := false
		// the list was saved in display order; keep it even where a
		// confirmed timestamp sorts before an earlier entry
		var prev time.Time
		for _, m := range msgs {
			var ident models.Identity
			if models.IsTempID(m.ID) {
				ident = models.Pending{TempID: m.ID}
				if m.Status == models.StatusSending && !e.opts.Queue.HasClient(m.ID) {
					m.Status = models.StatusFailed
					dirty = true
					stale++
				}
			} else {
				ident = models.Confirmed{ServerID: m.ID, TempID: m.ClientID}
			}
			at := m.Timestamp
			if at.Before(prev) {
				at = prev
			}
			prev = at
			cs.insert(m.ID, &entry{ident: ident, msg: m, at: at, seq: e.nextSeq()})
		}
		e.convs[c.ID] = cs
		if dirty {
			e.persistLocked(cs)
		}
	}
	logger.Info("cache_restored", "conversations", len(convs), "stale_sends", stale)
	return nil
}

// LoadConversations refreshes the conversation list from the server. Server
// fields win; the last-message snapshot follows local messages when there
// are any.
func (e *Engine) LoadConversations(ctx context.Context) error {
	convs, err := e.opts.API.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		e.markOnlineLocked(&c)
		cs, ok := e.convs[c.ID]
		if !ok {
			cs = newConvState(c)
			e.convs[c.ID] = cs
		} else {
			cs.conv = c
		}
		e.touchLocked(cs)
		e.publishConversationLocked(cs)
	}
	return nil
}

func (e *Engine) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (models.Conversation, error) {
	if !req.Kind.Valid() {
		return models.Conversation{}, fmt.Errorf("create conversation: invalid type %q", req.Kind)
	}
	c, err := e.opts.API.CreateConversation(ctx, req)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if c == nil || c.ID == "" {
		return models.Conversation{}, fmt.Errorf("create conversation: %w: no id", transport.ErrInvalidResponse)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markOnlineLocked(c)
	cs, ok := e.convs[c.ID]
	if !ok {
		cs = newConvState(*c)
		e.convs[c.ID] = cs
	} else {
		cs.conv = *c
	}
	e.touchLocked(cs)
	e.publishConversationLocked(cs)
	return cs.conv.Clone(), nil
}

// FetchMessages merges the most recent page into the conversation.
func (e *Engine) FetchMessages(ctx context.Context, convID string) error {
	if !e.known(convID) {
		return ErrUnknownConversation
	}
	page, err := e.opts.API.ListMessages(ctx, convID, 1, e.opts.PageSize)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	e.mergePage(convID, 1, page)
	return nil
}

// LoadOlderMessages merges the next older page and reports whether more
// history remains.
func (e *Engine) LoadOlderMessages(ctx context.Context, convID string) (bool, error) {
	e.mu.Lock()
	cs, ok := e.convs[convID]
	if !ok {
		e.mu.Unlock()
		return false, ErrUnknownConversation
	}
	if cs.page > 0 && !cs.hasMore {
		e.mu.Unlock()
		return false, nil
	}
	next := cs.page + 1
	e.mu.Unlock()

	page, err := e.opts.API.ListMessages(ctx, convID, next, e.opts.PageSize)
	if err != nil {
		return false, fmt.Errorf("load older messages: %w", err)
	}
	return e.mergePage(convID, next, page), nil
}

func (e *Engine) mergePage(convID string, n int, page *models.MessagePage) bool {
	var orphans []string
	e.mu.Lock()
	cs := e.convs[convID]
	for _, m := range page.Messages {
		if _, orphan := e.mergeServerLocked(cs, m); orphan != "" {
			orphans = append(orphans, orphan)
		}
	}
	if n >= cs.page {
		cs.page = n
		cs.hasMore = page.HasMore
	}
	cs.loaded = true
	e.touchLocked(cs)
	e.publishConversationLocked(cs)
	hasMore := cs.hasMore
	e.mu.Unlock()

	for _, id := range orphans {
		e.deleteOrphan(convID, id)
	}
	return hasMore
}

func (e *Engine) known(convID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.convs[convID]
	return ok
}
