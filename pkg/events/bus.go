// Package events carries engine notifications to consumers over channels.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

type Kind string

const (
	MessageAdded        Kind = "message_added"
	MessageUpdated      Kind = "message_updated"
	MessageRemoved      Kind = "message_removed"
	ConversationUpdated Kind = "conversation_updated"
	TypingChanged       Kind = "typing_changed"
	PresenceChanged     Kind = "presence_changed"
	ActionFailed        Kind = "action_failed"
	MediaProgress       Kind = "media_progress"
)

// Progress describes a media pipeline step.
type Progress struct {
	TempID  string
	Percent int
	Phase   string
	Info    any
}

type Event struct {
	Kind           Kind
	ConversationID string
	// MessageID is the id readers currently see for the message.
	MessageID    string
	Message      *models.Message
	Conversation *models.Conversation
	Typing       []models.TypingUser
	UserID       string
	Online       bool
	Action       *models.QueuedAction
	Progress     *Progress
	Err          error
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped uint64
	onDrop  func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// OnDrop registers a hook called for every dropped event.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe returns a channel of events and a function releasing it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

func (b *Bus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
