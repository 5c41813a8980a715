// Package presence derives who is online and who is typing from realtime
// events, and debounces the local user's own typing pings.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

// DefaultTypingExpiry drops a typing indicator after 2s of silence.
const DefaultTypingExpiry = 2 * time.Second

// PresenceHook is called after a user's online state changes.
type PresenceHook func(userID string, online bool)

type typingEntry struct {
	user models.TypingUser
	// since orders the list; gen identifies the live expiry timer
	since uint64
	gen   uint64
	timer *time.Timer
}

type Tracker struct {
	self   string
	expiry time.Duration
	bus    *events.Bus

	mu     sync.Mutex
	online map[string]bool
	typing map[string]map[string]*typingEntry
	seq    uint64
	hooks  []PresenceHook
	closed bool
}

// NewTracker builds a tracker for the local user self; typing events from
// self are ignored.
func NewTracker(self string, expiry time.Duration, bus *events.Bus) *Tracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Tracker{
		self:   self,
		expiry: expiry,
		bus:    bus,
		online: make(map[string]bool),
		typing: make(map[string]map[string]*typingEntry),
	}
}

// OnPresence registers a hook for online changes.
func (t *Tracker) OnPresence(h PresenceHook) {
	t.mu.Lock()
	t.hooks = append(t.hooks, h)
	t.mu.Unlock()
}

// IngestRealtimeEvent applies typing and presence events; other kinds are
// ignored.
func (t *Tracker) IngestRealtimeEvent(ev models.RealtimeEvent) {
	switch ev.Kind {
	case models.RealtimeTyping:
		ti, err := ev.DecodeTyping()
		if err != nil {
			logger.Warn("typing_decode_failed", "conversation", ev.ConversationID, "error", err)
			return
		}
		t.ApplyTyping(ti)
	case models.RealtimePresence:
		p, err := ev.DecodePresence()
		if err != nil {
			logger.Warn("presence_decode_failed", "conversation", ev.ConversationID, "error", err)
			return
		}
		t.ApplyPresence(p)
	}
}

func (t *Tracker) ApplyPresence(p models.PresenceUpdate) {
	if p.UserID == "" {
		return
	}
	t.mu.Lock()
	if t.closed || t.online[p.UserID] == p.Online {
		t.mu.Unlock()
		return
	}
	if p.Online {
		t.online[p.UserID] = true
	} else {
		delete(t.online, p.UserID)
	}
	hooks := append([]PresenceHook(nil), t.hooks...)
	t.mu.Unlock()

	for _, h := range hooks {
		h(p.UserID, p.Online)
	}
	t.bus.Publish(events.Event{Kind: events.PresenceChanged, UserID: p.UserID, Online: p.Online})
}

func (t *Tracker) ApplyTyping(ti models.TypingIndicator) {
	if ti.UserID == "" || ti.UserID == t.self || ti.ConversationID == "" {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	users := t.typing[ti.ConversationID]
	existing := users[ti.UserID]

	if !ti.IsTyping {
		if existing == nil {
			t.mu.Unlock()
			return
		}
		existing.timer.Stop()
		delete(users, ti.UserID)
		list := t.listLocked(ti.ConversationID)
		t.mu.Unlock()
		t.publishTyping(ti.ConversationID, list)
		return
	}

	if existing != nil {
		// refresh the window; the list itself is unchanged
		existing.timer.Stop()
		t.seq++
		existing.gen = t.seq
		existing.user.UserName = ti.UserName
		existing.timer = t.expireAfter(ti.ConversationID, ti.UserID, existing.gen)
		t.mu.Unlock()
		return
	}
	if users == nil {
		users = make(map[string]*typingEntry)
		t.typing[ti.ConversationID] = users
	}
	t.seq++
	e := &typingEntry{user: models.TypingUser{UserID: ti.UserID, UserName: ti.UserName}, since: t.seq, gen: t.seq}
	e.timer = t.expireAfter(ti.ConversationID, ti.UserID, e.gen)
	users[ti.UserID] = e
	list := t.listLocked(ti.ConversationID)
	t.mu.Unlock()
	t.publishTyping(ti.ConversationID, list)
}

func (t *Tracker) expireAfter(convID, userID string, gen uint64) *time.Timer {
	return time.AfterFunc(t.expiry, func() { t.expire(convID, userID, gen) })
}

func (t *Tracker) expire(convID, userID string, gen uint64) {
	t.mu.Lock()
	e := t.typing[convID][userID]
	if t.closed || e == nil || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.typing[convID], userID)
	list := t.listLocked(convID)
	t.mu.Unlock()
	logger.Debug("typing_expired", "conversation", convID, "user", userID)
	t.publishTyping(convID, list)
}

func (t *Tracker) publishTyping(convID string, list []models.TypingUser) {
	t.bus.Publish(events.Event{Kind: events.TypingChanged, ConversationID: convID, Typing: list})
}

// listLocked returns the typing users of a conversation, first typist first.
func (t *Tracker) listLocked(convID string) []models.TypingUser {
	users := t.typing[convID]
	entries := make([]*typingEntry, 0, len(users))
	for _, e := range users {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].since < entries[j].since })
	out := make([]models.TypingUser, len(entries))
	for i, e := range entries {
		out[i] = e.user
	}
	if len(users) == 0 {
		delete(t.typing, convID)
	}
	return out
}

func (t *Tracker) Typing(convID string) []models.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(convID)
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

func (t *Tracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops all expiry timers. Later events are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, users := range t.typing {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*typingEntry)
}
