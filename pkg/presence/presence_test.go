package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

func typingEvent(t *testing.T, conv, user string, typing bool) models.RealtimeEvent {
	t.Helper()
	ev, err := models.NewRealtimeEvent(models.RealtimeTyping, conv, models.TypingIndicator{
		UserID: user, UserName: "name-" + user, IsTyping: typing,
	})
	require.NoError(t, err)
	return ev
}

func TestTypingAddRemove(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()
	tr := NewTracker("me", time.Minute, bus)
	defer tr.Close()

	tr.IngestRealtimeEvent(typingEvent(t, "c1", "u1", true))
	tr.IngestRealtimeEvent(typingEvent(t, "c1", "u2", true))
	tr.IngestRealtimeEvent(typingEvent(t, "c1", "u1", true)) // refresh only
	tr.IngestRealtimeEvent(typingEvent(t, "c1", "me", true))

	got := tr.Typing("c1")
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)

	tr.IngestRealtimeEvent(typingEvent(t, "c1", "u1", false))
	assert.Equal(t, []models.TypingUser{{UserID: "u2", UserName: "name-u2"}}, tr.Typing("c1"))

	var kinds []int
	for len(ch) > 0 {
		ev := <-ch
		assert.Equal(t, events.TypingChanged, ev.Kind)
		kinds = append(kinds, len(ev.Typing))
	}
	assert.Equal(t, []int{1, 2, 1}, kinds)
}

func TestTypingExpiresWithoutStopEvent(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()
	tr := NewTracker("me", 50*time.Millisecond, bus)
	defer tr.Close()

	tr.ApplyTyping(models.TypingIndicator{ConversationID: "c1", UserID: "u1", IsTyping: true})
	<-ch
	require.Eventually(t, func() bool { return len(tr.Typing("c1")) == 0 }, time.Second, 5*time.Millisecond)

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypingChanged, ev.Kind)
		assert.Empty(t, ev.Typing)
	case <-time.After(time.Second):
		t.Fatal("no typing_changed event after expiry")
	}
}

func TestRefreshExtendsExpiry(t *testing.T) {
	tr := NewTracker("me", 80*time.Millisecond, events.NewBus())
	defer tr.Close()
	tr.ApplyTyping(models.TypingIndicator{ConversationID: "c1", UserID: "u1", IsTyping: true})
	time.Sleep(50 * time.Millisecond)
	tr.ApplyTyping(models.TypingIndicator{ConversationID: "c1", UserID: "u1", IsTyping: true})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, tr.Typing("c1"), 1)
}

func TestPresenceHooksAndSet(t *testing.T) {
	tr := NewTracker("me", time.Second, events.NewBus())
	defer tr.Close()
	var seen []string
	tr.OnPresence(func(id string, online bool) {
		if online {
			seen = append(seen, "+"+id)
		} else {
			seen = append(seen, "-"+id)
		}
	})

	ev, err := models.NewRealtimeEvent(models.RealtimePresence, "c1", models.PresenceUpdate{UserID: "u2", Online: true})
	require.NoError(t, err)
	tr.IngestRealtimeEvent(ev)
	tr.ApplyPresence(models.PresenceUpdate{UserID: "u1", Online: true})
	tr.ApplyPresence(models.PresenceUpdate{UserID: "u1", Online: true})
	tr.ApplyPresence(models.PresenceUpdate{UserID: "u2", Online: false})

	assert.Equal(t, []string{"+u2", "+u1", "-u2"}, seen)
	assert.True(t, tr.IsOnline("u1"))
	assert.False(t, tr.IsOnline("u2"))
	assert.Equal(t, []string{"u1"}, tr.OnlineUsers())
}

type ping struct {
	conv   string
	typing bool
}

type recorder struct {
	mu    sync.Mutex
	pings []ping
}

func (r *recorder) SendTyping(_ context.Context, convID string, isTyping bool) {
	r.mu.Lock()
	r.pings = append(r.pings, ping{convID, isTyping})
	r.mu.Unlock()
}

func (r *recorder) get() []ping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ping(nil), r.pings...)
}

func TestDebouncerSendsOnceThenStopsWhenIdle(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(context.Background(), rec, 60*time.Millisecond)
	defer d.Stop()
	ctx := context.Background()

	d.Keystroke(ctx, "c1")
	d.Keystroke(ctx, "c1")
	d.Keystroke(ctx, "c1")
	assert.Equal(t, []ping{{"c1", true}}, rec.get())

	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ping{"c1", false}, rec.get()[1])
	assert.False(t, d.Typing("c1"))

	d.Keystroke(ctx, "c1")
	assert.Equal(t, ping{"c1", true}, rec.get()[2])
}

func TestDebouncerMessageSent(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(context.Background(), rec, time.Hour)
	defer d.Stop()
	ctx := context.Background()

	d.MessageSent(ctx, "c1")
	assert.Empty(t, rec.get())

	d.Keystroke(ctx, "c1")
	d.MessageSent(ctx, "c1")
	assert.Equal(t, []ping{{"c1", true}, {"c1", false}}, rec.get())
}
