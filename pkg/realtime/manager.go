// Package realtime keeps one pushed-event subscription per conversation and
// routes the events to their consumers.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
)

var ErrClosed = errors.New("realtime: manager closed")

// Sink consumes routed events. Events of one conversation are delivered
// sequentially in arrival order.
type Sink interface {
	IngestRealtimeEvent(ev models.RealtimeEvent)
}

type Options struct {
	// Messages receives new_message and message_update events.
	Messages Sink
	// Presence receives typing and presence events.
	Presence Sink
	// RedialInitial and RedialMax bound the reconnect backoff.
	RedialInitial time.Duration
	RedialMax     time.Duration
	Metrics       *telemetry.Metrics
	// OnConnection is told how many subscriptions hold a live connection
	// whenever a connection comes or goes or a subscription is dropped. It
	// runs under the manager lock and must not call back into the manager.
	OnConnection func(connected, subscribed int)
}

type Manager struct {
	dialer Dialer
	opts   Options
	ctx    context.Context
	stop   context.CancelFunc

	mu        sync.Mutex
	subs      map[string]*subscription
	connected int
	closed    bool
}

type subscription struct {
	convID string
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn Conn
}

func NewManager(d Dialer, opts Options) *Manager {
	if d == nil {
		panic("realtime: nil dialer")
	}
	if opts.RedialInitial <= 0 {
		opts.RedialInitial = 500 * time.Millisecond
	}
	if opts.RedialMax <= 0 {
		opts.RedialMax = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{dialer: d, opts: opts, ctx: ctx, stop: cancel, subs: make(map[string]*subscription)}
}

// Subscribe starts receiving events for a conversation. Subscribing twice is
// a no-op. Connecting happens in the background and is retried until the
// subscription is released.
func (m *Manager) Subscribe(convID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.subs[convID]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{convID: convID, cancel: cancel, done: make(chan struct{})}
	m.subs[convID] = sub
	m.opts.Metrics.SetSubscriptions(len(m.subs))
	go m.run(ctx, sub)
	return nil
}

// Unsubscribe releases the conversation's channel and waits for its reader to
// stop. Unknown conversations are ignored.
func (m *Manager) Unsubscribe(convID string) {
	m.mu.Lock()
	sub, ok := m.subs[convID]
	if ok {
		delete(m.subs, convID)
		m.opts.Metrics.SetSubscriptions(len(m.subs))
		m.reportLocked()
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.release()
	<-sub.done
	logger.Info("realtime_unsubscribed", "conversation", convID)
}

// Connected returns the number of subscriptions with a live connection.
func (m *Manager) Connected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) connectionChanged(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected += delta
	m.reportLocked()
}

func (m *Manager) reportLocked() {
	if m.opts.OnConnection != nil {
		m.opts.OnConnection(m.connected, len(m.subs))
	}
}

func (m *Manager) Subscribed(convID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[convID]
	return ok
}

// Subscriptions lists the subscribed conversation ids.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close releases every subscription. Later Subscribe calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	m.stop()
	for _, sub := range subs {
		sub.release()
	}
	for _, sub := range subs {
		<-sub.done
	}
	m.opts.Metrics.SetSubscriptions(0)
	return nil
}

func (s *subscription) release() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

// attach records the live connection; it reports false when the
// subscription was released meanwhile.
func (s *subscription) attach(ctx context.Context, c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.conn = c
	return true
}

func (s *subscription) detach() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RedialInitial
	b.MaxInterval = m.opts.RedialMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		conn, err := m.dialer.Dial(ctx, sub.convID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("realtime_dial_failed", "conversation", sub.convID, "error", err)
		} else {
			if !sub.attach(ctx, conn) {
				_ = conn.Close()
				return
			}
			logger.Info("realtime_subscribed", "conversation", sub.convID)
			m.connectionChanged(1)
			b.Reset()
			err = m.readLoop(sub.convID, conn)
			sub.detach()
			m.connectionChanged(-1)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn("realtime_connection_lost", "conversation", sub.convID, "error", err)
		}

		m.opts.Metrics.Reconnect()
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Manager) readLoop(convID string, conn Conn) error {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				logger.Warn("realtime_event_malformed", "conversation", convID, "error", err)
				m.opts.Metrics.RealtimeEvent("unknown", "malformed")
				continue
			}
			return err
		}
		if ev.ConversationID == "" {
			ev.ConversationID = convID
		}
		m.route(ev)
	}
}

func (m *Manager) route(ev models.RealtimeEvent) {
	var sink Sink
	switch ev.Kind {
	case models.RealtimeNewMessage, models.RealtimeMessageUpdate:
		sink = m.opts.Messages
	case models.RealtimeTyping, models.RealtimePresence:
		sink = m.opts.Presence
	default:
		logger.Debug("realtime_event_unknown", "type", string(ev.Kind), "conversation", ev.ConversationID)
		m.opts.Metrics.RealtimeEvent(string(ev.Kind), "unknown")
		return
	}
	if sink == nil {
		m.opts.Metrics.RealtimeEvent(string(ev.Kind), "unrouted")
		return
	}
	sink.IngestRealtimeEvent(ev)
	m.opts.Metrics.RealtimeEvent(string(ev.Kind), "routed")
}
