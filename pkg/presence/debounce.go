package presence

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingIdle is the silence after which a stop ping is sent.
const DefaultTypingIdle = 2 * time.Second

// TypingSender delivers the local user's typing pings.
type TypingSender interface {
	SendTyping(ctx context.Context, convID string, isTyping bool)
}

type debounceEntry struct {
	gen   uint64
	timer *time.Timer
}

// Debouncer turns keystrokes into typing pings: one ping on the first
// keystroke after idle, then nothing until the user pauses (stop ping) or
// sends the message.
type Debouncer struct {
	base   context.Context
	sender TypingSender
	idle   time.Duration

	mu      sync.Mutex
	active  map[string]*debounceEntry
	gen     uint64
	stopped bool
}

// NewDebouncer builds a debouncer; base is used for stop pings sent from the
// idle timer.
func NewDebouncer(base context.Context, sender TypingSender, idle time.Duration) *Debouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &Debouncer{base: base, sender: sender, idle: idle, active: make(map[string]*debounceEntry)}
}

func (d *Debouncer) Keystroke(ctx context.Context, convID string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	e, typing := d.active[convID]
	if typing {
		e.timer.Stop()
	} else {
		e = &debounceEntry{}
		d.active[convID] = e
	}
	d.gen++
	gen := d.gen
	e.gen = gen
	e.timer = time.AfterFunc(d.idle, func() { d.idleTimeout(convID, gen) })
	d.mu.Unlock()

	if !typing {
		d.sender.SendTyping(ctx, convID, true)
	}
}

// MessageSent ends the typing state of a conversation.
func (d *Debouncer) MessageSent(ctx context.Context, convID string) {
	if d.clear(convID, 0) {
		d.sender.SendTyping(ctx, convID, false)
	}
}

func (d *Debouncer) idleTimeout(convID string, gen uint64) {
	if d.clear(convID, gen) {
		d.sender.SendTyping(d.base, convID, false)
	}
}

// clear drops the conversation's typing state; gen 0 matches any timer.
func (d *Debouncer) clear(convID string, gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.active[convID]
	if !ok || d.stopped || (gen != 0 && e.gen != gen) {
		return false
	}
	e.timer.Stop()
	delete(d.active, convID)
	return true
}

// Typing reports whether a typing state is active for the conversation.
func (d *Debouncer) Typing(convID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[convID]
	return ok
}

// Stop cancels all timers without sending stop pings.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for id, e := range d.active {
		e.timer.Stop()
		delete(d.active, id)
	}
}
