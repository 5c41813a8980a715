// Package engine is the authoritative client-side cache of conversations and
// messages. It applies optimistic writes, reconciles them with server
// acknowledgements and pushed events, and persists every change.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/media"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

// Contract violations. Expected failures (network, rejection) are reported
// through message status and events instead.
var (
	ErrUnknownConversation = errors.New("engine: unknown conversation")
	ErrUnknownMessage      = errors.New("engine: unknown message")
	ErrEmptyMessage        = errors.New("engine: empty message")
	ErrNotRetryable        = errors.New("engine: message is not in failed state")
	ErrNotMedia            = errors.New("engine: kind does not carry media")
)

const (
	DefaultPageSize  = 50
	DefaultTypingTTL = 5 * time.Second
)

// API is the remote surface the engine calls.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, convID string, page, limit int) (*models.MessagePage, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, req models.MarkReadRequest) error
	SendTyping(ctx context.Context, req models.TypingRequest) error
	CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error)
}

type MediaRunner interface {
	Run(ctx context.Context, localFile string, kind models.MessageKind, progress media.ProgressFunc) (*models.Media, error)
}

// ActionQueue is the part of the offline queue the engine drives.
type ActionQueue interface {
	Enqueue(a *models.QueuedAction) (string, error)
	Len() int
	Notify()
	CancelForClient(clientID string) int
	HasClient(clientID string) bool
}

// Presence receives typing and presence events and answers online lookups.
type Presence interface {
	IngestRealtimeEvent(ev models.RealtimeEvent)
	IsOnline(userID string) bool
}

type Options struct {
	// Self is the local user; its id, name and role stamp outgoing messages.
	Self     models.Participant
	Cache    *store.Cache
	API      API
	Queue    ActionQueue
	Media    MediaRunner
	Presence Presence
	Bus      *events.Bus
	Metrics  *telemetry.Metrics

	PageSize  int
	TypingTTL time.Duration
	// IsRetryable classifies delivery errors; defaults to transport.IsRetryable.
	IsRetryable func(error) bool
	Now         func() time.Time
}

// SentHook is called when the local user sends a message, before delivery.
type SentHook func(ctx context.Context, convID string)

type Engine struct {
	opts   Options
	online atomic.Bool

	mu        sync.Mutex
	convs     map[string]*convState
	seq       uint64
	sentHooks []SentHook
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Cache == nil:
		return nil, errors.New("engine: cache is required")
	case opts.API == nil:
		return nil, errors.New("engine: api is required")
	case opts.Queue == nil:
		return nil, errors.New("engine: queue is required")
	case opts.Self.ID == "":
		return nil, errors.New("engine: self user id is required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = transport.IsRetryable
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Self.Role == "" {
		opts.Self.Role = models.RoleUser
	}
	return &Engine{opts: opts, convs: make(map[string]*convState)}, nil
}

func (e *Engine) Bus() *events.Bus { return e.opts.Bus }

// OnMessageSent registers a hook run for every message the local user sends.
// The typing debouncer uses it to end the typing state.
func (e *Engine) OnMessageSent(h SentHook) {
	e.mu.Lock()
	e.sentHooks = append(e.sentHooks, h)
	e.mu.Unlock()
}

func (e *Engine) notifySent(ctx context.Context, convID string) {
	e.mu.Lock()
	hooks := append([]SentHook(nil), e.sentHooks...)
	e.mu.Unlock()
	for _, h := range hooks {
		h(ctx, convID)
	}
}

// SetOnline records connectivity. Going online wakes the queue.
func (e *Engine) SetOnline(online bool) {
	if e.online.Swap(online) != online && online {
		e.opts.Queue.Notify()
	}
}

func (e *Engine) Online() bool { return e.online.Load() }

// Conversations returns copies of all conversations, most recently updated
// first.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Conversation, 0, len(e.convs))
	for _, cs := range e.convs {
		out = append(out, cs.conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) Conversation(id string) (models.Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[id]
	if !ok {
		return models.Conversation{}, ErrUnknownConversation
	}
	return cs.conv.Clone(), nil
}

// Messages returns the conversation's messages ordered oldest first.
func (e *Engine) Messages(convID string) ([]models.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return nil, ErrUnknownConversation
	}
	return cs.messages(), nil
}

// Identity reports whether a message is still pending or confirmed. Either
// its temporary or its server id may be given.
func (e *Engine) Identity(convID, messageID string) (models.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.convs[convID]
	if !ok {
		return nil, ErrUnknownConversation
	}
	_, ent, ok := cs.lookup(messageID)
	if !ok {
		return nil, ErrUnknownMessage
	}
	return ent.ident, nil
}

// ApplyPresence mirrors a user's online state onto the participant lists.
func (e *Engine) ApplyPresence(userID string, online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cs := range e.convs {
		if cs.conv.SetParticipantOnline(userID, online) {
			e.persistLocked(cs)
			e.publishConversationLocked(cs)
		}
	}
}

func (e *Engine) publish(ev events.Event) {
	e.opts.Bus.Publish(ev)
}
