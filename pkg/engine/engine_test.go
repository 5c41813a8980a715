package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/media"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/queue"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/kv"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

type fakeAPI struct {
	mu       sync.Mutex
	convs    []models.Conversation
	pages    map[int]*models.MessagePage
	sendErr  error
	sends    []models.SendMessageRequest
	deletes  []string
	reads    []models.MarkReadRequest
	typing   []models.TypingRequest
	nextID   int
	status   models.MessageStatus
	noIDs    bool
	stamp    time.Time
	onSend   func(req models.SendMessageRequest, id string)
	deleteFn func(id string) error
}

func (f *fakeAPI) ListConversations(context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Conversation(nil), f.convs...), nil
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string, page, _ int) (*models.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &models.MessagePage{Page: page}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req models.SendMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("m%d", 41+f.nextID)
	if f.noIDs {
		id = ""
	}
	hook, status, stamp := f.onSend, f.status, f.stamp
	f.mu.Unlock()
	if hook != nil {
		hook(req, id)
	}
	if stamp.IsZero() {
		stamp = time.Now()
	}
	m := &models.Message{ID: id, ConversationID: req.ConversationID, Content: req.Content, Kind: req.Kind, Status: status, Timestamp: stamp}
	if req.MediaURL != "" {
		m.Media = &models.Media{URL: req.MediaURL, Size: req.MediaSize}
	}
	return m, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}

func (f *fakeAPI) MarkRead(_ context.Context, req models.MarkReadRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, req)
	return nil
}

func (f *fakeAPI) SendTyping(_ context.Context, req models.TypingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, req)
	return nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	return &models.Conversation{ID: "new-conv", Kind: req.Kind, Participants: req.Participants, Active: true}, nil
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAPI) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	eng   *Engine
	q     *queue.Queue
	api   *fakeAPI
	mem   *kv.MemoryKV
	clk   *clock
	bus   *events.Bus
	media MediaRunner
	// attempts overrides the queue's per-kind budgets
	attempts map[models.ActionKind]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api: &fakeAPI{convs: []models.Conversation{{
			ID:   "c1",
			Kind: models.ConversationSupport,
			Participants: []models.Participant{
				{ID: "me", Role: models.RoleUser, Name: "Me"},
				{ID: "agent", Role: models.RoleAdmin, Name: "Agent"},
			},
			Active: true,
		}}},
		mem: kv.NewMemory(),
		clk: &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		bus: events.NewBus(),
	}
	h.start(t)
	require.NoError(t, h.eng.LoadConversations(context.Background()))
	return h
}

// start builds the queue and engine over h.mem, as after a process start.
func (h *harness) start(t *testing.T) {
	t.Helper()
	cache := store.NewCache(h.mem)
	var eng *Engine
	q, err := queue.New(cache, queue.Options{
		MaxAttempts: h.attempts,
		Now:         h.clk.Now,
		Ready:       func() bool { return eng.Online() },
		Backoff:     queue.BackoffOptions{Initial: time.Second, Max: time.Minute, Multiplier: 2},
	})
	require.NoError(t, err)
	eng, err = New(Options{
		Self:  models.Participant{ID: "me", Name: "Me"},
		Cache: cache,
		API:   h.api,
		Queue: q,
		Media: h.media,
		Bus:   h.bus,
		Now:   h.clk.Now,
	})
	require.NoError(t, err)
	q.Bind(eng, eng)
	eng.SetOnline(true)
	h.eng, h.q = eng, q
}

func (h *harness) messages(t *testing.T) []models.Message {
	t.Helper()
	msgs, err := h.eng.Messages("c1")
	require.NoError(t, err)
	return msgs
}

func push(t *testing.T, kind models.RealtimeKind, payload any) models.RealtimeEvent {
	t.Helper()
	ev, err := models.NewRealtimeEvent(kind, "c1", payload)
	require.NoError(t, err)
	return ev
}

func TestSendTextReconcilesInPlace(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, h.eng.SendText(context.Background(), "c1", "hello", ""))

	added := <-ch
	require.Equal(t, events.MessageAdded, added.Kind)
	assert.Equal(t, models.StatusSending, added.Message.Status)
	assert.True(t, models.IsTempID(added.MessageID))

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.Equal(t, added.MessageID, msgs[0].ClientID)
	assert.Equal(t, "me", msgs[0].SenderID)

	h.eng.IngestRealtimeEvent(push(t, models.RealtimeMessageUpdate, models.MessageUpdate{ID: "m42", Status: models.StatusDelivered}))
	msgs = h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)

	ident, err := h.eng.Identity("c1", added.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.Confirmed{ServerID: "m42", TempID: added.MessageID}, ident)

	conv, err := h.eng.Conversation("c1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m42", conv.LastMessage.ID)
}

func TestNetworkDownExhaustsAfterThreeAttempts(t *testing.T) {
	h := newHarness(t)
	h.api.setSendErr(fmt.Errorf("%w: connection refused", transport.ErrNetwork))
	ctx := context.Background()

	require.NoError(t, h.eng.SendText(ctx, "c1", "hi", ""))
	pending := h.q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, models.StatusSending, h.messages(t)[0].Status)

	res, err := h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 2, h.q.Pending()[0].Attempts)

	h.clk.Advance(time.Minute)
	res, err = h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, 3, h.api.sendCount())
	assert.Zero(t, h.q.Len())
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)

	h.clk.Advance(time.Hour)
	_, err = h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.api.sendCount())
}

func TestSingleAttemptBudgetIsNotRepeated(t *testing.T) {
	h := newHarness(t)
	h.attempts = map[models.ActionKind]int{models.ActionSendMessage: 1}
	h.start(t)
	require.NoError(t, h.eng.LoadConversations(context.Background()))
	h.api.setSendErr(fmt.Errorf("%w: connection refused", transport.ErrNetwork))
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()
	ctx := context.Background()

	require.NoError(t, h.eng.SendText(ctx, "c1", "once", ""))
	assert.Equal(t, 1, h.api.sendCount())
	assert.Zero(t, h.q.Len())
	assert.Equal(t, models.StatusFailed, h.messages(t)[0].Status)

	var failed *events.Event
	for len(ch) > 0 {
		ev := <-ch
		if ev.Kind == events.ActionFailed {
			failed = &ev
		}
	}
	require.NotNil(t, failed)
	assert.ErrorIs(t, failed.Err, transport.ErrNetwork)

	h.clk.Advance(time.Hour)
	_, err := h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.sendCount())
}

func TestRejectionFailsWithoutQueueing(t *testing.T) {
	h := newHarness(t)
	h.api.setSendErr(&transport.APIError{Status: 400, Message: "too long"})
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, h.eng.SendText(context.Background(), "c1", "hi", ""))
	assert.Zero(t, h.q.Len())
	assert.Equal(t, models.StatusFailed, h.messages(t)[0].Status)

	var failed *events.Event
	for len(ch) > 0 {
		ev := <-ch
		if ev.Kind == events.ActionFailed {
			failed = &ev
		}
	}
	require.NotNil(t, failed)
	var apiErr *transport.APIError
	assert.True(t, errors.As(failed.Err, &apiErr))
}

func TestOfflineSendQueuesAndReplaysInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eng.SetOnline(false)

	require.NoError(t, h.eng.SendText(ctx, "c1", "one", ""))
	require.NoError(t, h.eng.SendText(ctx, "c1", "two", ""))
	assert.Zero(t, h.api.sendCount())
	assert.Equal(t, 2, h.q.Len())
	assert.Zero(t, h.q.Pending()[0].Attempts)

	res, err := h.q.Process(ctx)
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	h.eng.SetOnline(true)
	// later actions wait behind the queue even when online
	require.NoError(t, h.eng.SendText(ctx, "c1", "three", ""))
	assert.Equal(t, 3, h.q.Len())

	res, err = h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)

	msgs := h.messages(t)
	require.Len(t, msgs, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, msgs[i].Content)
		assert.Equal(t, models.StatusSent, msgs[i].Status)
		assert.False(t, models.IsTempID(msgs[i].ID))
	}
	h.api.mu.Lock()
	assert.Equal(t, "one", h.api.sends[0].Content)
	assert.Equal(t, msgs[0].ClientID, h.api.sends[0].ClientID)
	h.api.mu.Unlock()
}

func TestAcknowledgementWithoutIDKeepsMessages(t *testing.T) {
	h := newHarness(t)
	h.api.noIDs = true
	ctx := context.Background()

	require.NoError(t, h.eng.SendText(ctx, "c1", "one", ""))
	require.NoError(t, h.eng.SendText(ctx, "c1", "two", ""))

	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	for i, want := range []string{"one", "two"} {
		assert.Equal(t, want, msgs[i].Content)
		assert.True(t, models.IsTempID(msgs[i].ID))
		assert.Equal(t, models.StatusFailed, msgs[i].Status)
	}
	assert.Zero(t, h.q.Len())

	h.api.noIDs = false
	require.NoError(t, h.eng.RetryMessage(ctx, "c1", msgs[0].ID))
	msgs = h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	assert.False(t, models.IsTempID(msgs[0].ID))
}

func TestRealtimeDuplicatesAreDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "hello", ""))
	tempID := h.messages(t)[0].ClientID

	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m42", SenderID: "me", Content: "hello"}))
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: tempID, SenderID: "me", Content: "hello"}))
	assert.Len(t, h.messages(t), 1)

	other := models.Message{ID: "m7", SenderID: "agent", Content: "hey", Timestamp: h.clk.Now().Add(time.Second)}
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, other))
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, other))
	msgs := h.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m7", msgs[1].ID)

	conv, _ := h.eng.Conversation("c1")
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestPushBeforeAcknowledgementKeepsOneEntry(t *testing.T) {
	h := newHarness(t)
	h.api.onSend = func(req models.SendMessageRequest, id string) {
		// server pushes its copy, without the client id, before responding
		h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: id, SenderID: "me", Content: req.Content}))
		h.eng.IngestRealtimeEvent(push(t, models.RealtimeMessageUpdate, models.MessageUpdate{ID: id, Status: models.StatusDelivered}))
	}
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "race", ""))

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
	assert.True(t, models.IsTempID(msgs[0].ClientID))
}

func TestEchoWithClientIDConfirms(t *testing.T) {
	h := newHarness(t)
	h.eng.SetOnline(false)
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "echo", ""))
	tempID := h.messages(t)[0].ID

	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "s1", ClientID: tempID, SenderID: "me", Content: "echo"}))
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1", msgs[0].ID)

	// the queued send is no longer needed
	h.eng.SetOnline(true)
	res, err := h.q.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, h.api.sendCount())
}

func TestStatusNeverRegresses(t *testing.T) {
	h := newHarness(t)
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m1", SenderID: "agent", Content: "x"}))
	for _, st := range []models.MessageStatus{models.StatusRead, models.StatusDelivered, models.StatusSent, models.StatusFailed} {
		h.eng.IngestRealtimeEvent(push(t, models.RealtimeMessageUpdate, models.MessageUpdate{ID: "m1", Status: st}))
	}
	assert.Equal(t, models.StatusRead, h.messages(t)[0].Status)
}

func TestMarkConversationRead(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{
			ID: fmt.Sprintf("m%d", i), SenderID: "agent", Content: "x", Timestamp: h.clk.Now().Add(time.Duration(i) * time.Second),
		}))
	}
	conv, _ := h.eng.Conversation("c1")
	require.Equal(t, 3, conv.UnreadCount)

	require.NoError(t, h.eng.MarkConversationRead(context.Background(), "c1", []string{"m1", "m3", "nope"}))
	conv, _ = h.eng.Conversation("c1")
	assert.Zero(t, conv.UnreadCount)

	status := map[string]models.MessageStatus{}
	for _, m := range h.messages(t) {
		status[m.ID] = m.Status
	}
	assert.Equal(t, map[string]models.MessageStatus{"m1": models.StatusRead, "m2": models.StatusSent, "m3": models.StatusRead}, status)
	require.Len(t, h.api.reads, 1)
	assert.Equal(t, []string{"m1", "m3"}, h.api.reads[0].MessageIDs)

	assert.ErrorIs(t, h.eng.MarkConversationRead(context.Background(), "zz", nil), ErrUnknownConversation)
}

func TestMarkReadSkipsUnsentMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.setSendErr(fmt.Errorf("%w: connection refused", transport.ErrNetwork))
	require.NoError(t, h.eng.SendText(ctx, "c1", "not yet", ""))
	tempID := h.messages(t)[0].ID

	require.NoError(t, h.eng.MarkConversationRead(ctx, "c1", []string{tempID}))
	assert.Equal(t, models.StatusSending, h.messages(t)[0].Status)
	assert.Empty(t, h.api.reads)

	for i := 0; i < 2; i++ {
		h.clk.Advance(time.Minute)
		_, err := h.q.Process(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusFailed, h.messages(t)[0].Status)

	h.api.setSendErr(nil)
	require.NoError(t, h.eng.RetryMessage(ctx, "c1", tempID))
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
}

func TestConfirmationKeepsStatusSeenWhilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eng.SetOnline(false)
	require.NoError(t, h.eng.SendText(ctx, "c1", "hello", ""))
	tempID := h.messages(t)[0].ID

	h.eng.IngestRealtimeEvent(push(t, models.RealtimeMessageUpdate, models.MessageUpdate{ID: tempID, Status: models.StatusDelivered}))
	require.Equal(t, models.StatusDelivered, h.messages(t)[0].Status)

	h.eng.SetOnline(true)
	_, err := h.q.Process(ctx)
	require.NoError(t, err)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
}

func TestDeleteIsNotRolledBack(t *testing.T) {
	h := newHarness(t)
	h.api.deleteFn = func(string) error { return &transport.APIError{Status: 403, Message: "forbidden"} }
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "bye", ""))

	require.NoError(t, h.eng.DeleteMessage(context.Background(), "m42"))
	assert.Empty(t, h.messages(t))
	assert.Equal(t, []string{"m42"}, h.api.deletes)
	assert.Zero(t, h.q.Len())

	assert.ErrorIs(t, h.eng.DeleteMessage(context.Background(), "m42"), ErrUnknownMessage)
}

func TestDeletePendingCancelsQueuedSend(t *testing.T) {
	h := newHarness(t)
	h.eng.SetOnline(false)
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "oops", ""))
	tempID := h.messages(t)[0].ID

	require.NoError(t, h.eng.DeleteMessage(context.Background(), tempID))
	assert.Zero(t, h.q.Len())
	assert.Empty(t, h.api.deletes)

	h.eng.SetOnline(true)
	_, err := h.q.Process(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.api.sendCount())
}

func TestDeleteWhileSendInFlightRemovesServerCopy(t *testing.T) {
	h := newHarness(t)
	h.api.onSend = func(req models.SendMessageRequest, id string) {
		require.NoError(t, h.eng.DeleteMessage(context.Background(), req.ClientID))
	}
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "regret", ""))

	assert.Empty(t, h.messages(t))
	pending := h.q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionDeleteMessage, pending[0].Kind)

	_, err := h.q.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m42"}, h.api.deletes)
}

func TestRetryMessage(t *testing.T) {
	h := newHarness(t)
	h.api.setSendErr(&transport.APIError{Status: 422, Message: "nope"})
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "again", ""))
	msg := h.messages(t)[0]
	require.Equal(t, models.StatusFailed, msg.Status)

	h.api.setSendErr(nil)
	require.NoError(t, h.eng.RetryMessage(context.Background(), "c1", msg.ID))
	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)

	assert.ErrorIs(t, h.eng.RetryMessage(context.Background(), "c1", msgs[0].ID), ErrNotRetryable)
	assert.ErrorIs(t, h.eng.RetryMessage(context.Background(), "c1", "missing"), ErrUnknownMessage)
	assert.ErrorIs(t, h.eng.RetryMessage(context.Background(), "zz", msg.ID), ErrUnknownConversation)
}

func TestContractErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.ErrorIs(t, h.eng.SendText(ctx, "c1", "   ", ""), ErrEmptyMessage)
	assert.ErrorIs(t, h.eng.SendText(ctx, "zz", "hi", ""), ErrUnknownConversation)
	_, err := h.eng.SendMedia(ctx, "c1", "a.png", models.KindText, "", nil)
	assert.ErrorIs(t, err, ErrNotMedia)
	_, err = h.eng.Messages("zz")
	assert.ErrorIs(t, err, ErrUnknownConversation)
	assert.ErrorIs(t, h.eng.FetchMessages(ctx, "zz"), ErrUnknownConversation)
}

func TestRapidSendsKeepInsertionOrder(t *testing.T) {
	h := newHarness(t)
	h.eng.SetOnline(false)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.eng.SendText(context.Background(), "c1", fmt.Sprint(i), ""))
	}
	h.eng.SetOnline(true)
	_, err := h.q.Process(context.Background())
	require.NoError(t, err)

	msgs := h.messages(t)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprint(i), m.Content)
	}
}

func TestRestoreMarksInterruptedSendsFailed(t *testing.T) {
	h := newHarness(t)
	h.eng.SetOnline(false)
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "queued", ""))
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m1", SenderID: "agent", Content: "x"}))

	// an optimistic entry whose delivery never reached the queue
	_, err := h.eng.insertOptimistic("c1", models.KindText, "lost", nil, "")
	require.NoError(t, err)

	h.mem.Reopen()
	h.start(t)
	require.NoError(t, h.eng.Restore())

	got := map[string]models.MessageStatus{}
	for _, m := range h.messages(t) {
		got[m.Content] = m.Status
	}
	assert.Equal(t, map[string]models.MessageStatus{
		"queued": models.StatusSending,
		"x":      models.StatusSent,
		"lost":   models.StatusFailed,
	}, got)
	assert.Equal(t, 1, h.q.Len())

	res, err := h.q.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestFetchAndLoadOlderMessages(t *testing.T) {
	h := newHarness(t)
	base := h.clk.Now()
	h.api.pages = map[int]*models.MessagePage{
		1: {Page: 1, HasMore: true, Messages: []models.Message{
			{ID: "m3", Timestamp: base.Add(3 * time.Second)},
			{ID: "m4", Timestamp: base.Add(4 * time.Second)},
		}},
		2: {Page: 2, HasMore: false, Messages: []models.Message{
			{ID: "m1", Timestamp: base.Add(1 * time.Second)},
			{ID: "m2", Timestamp: base.Add(2 * time.Second)},
			{ID: "m3", Timestamp: base.Add(3 * time.Second), Status: models.StatusRead},
		}},
	}
	ctx := context.Background()
	require.NoError(t, h.eng.FetchMessages(ctx, "c1"))
	more, err := h.eng.LoadOlderMessages(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, more)

	var ids []string
	for _, m := range h.messages(t) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)
	assert.Equal(t, models.StatusRead, h.messages(t)[2].Status)

	more, err = h.eng.LoadOlderMessages(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, more)
}

func TestPresenceUpdatesParticipants(t *testing.T) {
	h := newHarness(t)
	h.eng.ApplyPresence("agent", true)
	conv, _ := h.eng.Conversation("c1")
	p, ok := conv.Participant("agent")
	require.True(t, ok)
	assert.True(t, p.Online)
}

func TestTypingPingsAndExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.eng.SendTyping(ctx, "c1", true)
	assert.Equal(t, []models.TypingRequest{{ConversationID: "c1", IsTyping: true}}, h.api.typing)

	h.eng.SetOnline(false)
	h.eng.SendTyping(ctx, "c1", false)
	require.Equal(t, 1, h.q.Len())
	h.clk.Advance(DefaultTypingTTL + time.Second)
	h.eng.SetOnline(true)
	res, err := h.q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Len(t, h.api.typing, 1)
}

func TestCreateConversation(t *testing.T) {
	h := newHarness(t)
	conv, err := h.eng.CreateConversation(context.Background(), models.CreateConversationRequest{
		Kind: models.ConversationGroupOrder, Participants: []models.Participant{{ID: "me"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-conv", conv.ID)
	assert.Len(t, h.eng.Conversations(), 2)

	_, err = h.eng.CreateConversation(context.Background(), models.CreateConversationRequest{Kind: "party"})
	assert.Error(t, err)
}

type blockingMedia struct {
	release chan struct{}
	err     error
}

func (b *blockingMedia) Run(ctx context.Context, localFile string, kind models.MessageKind, progress media.ProgressFunc) (*models.Media, error) {
	progress(0, media.PhaseOptimizing, nil)
	if b.release != nil {
		<-b.release
	}
	if b.err != nil {
		progress(30, media.PhaseFailed, nil)
		return nil, &media.PipelineError{Phase: media.PhaseUploading, Err: b.err}
	}
	progress(100, media.PhaseComplete, nil)
	return &models.Media{URL: "https://cdn.example/" + localFile, Size: 10}, nil
}

func TestSendMediaReplacesPlaceholder(t *testing.T) {
	h := newHarnessWithMedia(t, &blockingMedia{})
	var phases []media.Phase
	tempID, err := h.eng.SendMedia(context.Background(), "c1", "dish.png", models.KindImage, "", func(_ int, ph media.Phase, _ *media.OptimizationInfo) {
		phases = append(phases, ph)
	})
	require.NoError(t, err)
	assert.True(t, models.IsTempID(tempID))
	assert.Equal(t, []media.Phase{media.PhaseOptimizing, media.PhaseComplete}, phases)

	msgs := h.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusSent, msgs[0].Status)
	require.NotNil(t, msgs[0].Media)
	assert.Equal(t, "https://cdn.example/dish.png", msgs[0].Media.URL)
	assert.Equal(t, "https://cdn.example/dish.png", h.api.sends[0].MediaURL)
}

func TestSendMediaFailureRecordsPhase(t *testing.T) {
	h := newHarnessWithMedia(t, &blockingMedia{err: errors.New("503")})
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()

	_, err := h.eng.SendMedia(context.Background(), "c1", "dish.png", models.KindImage, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, h.messages(t)[0].Status)
	assert.Zero(t, h.api.sendCount())

	var pe *media.PipelineError
	for len(ch) > 0 {
		ev := <-ch
		if ev.Kind == events.MediaProgress && ev.Err != nil {
			require.ErrorAs(t, ev.Err, &pe)
		}
	}
	require.NotNil(t, pe)
	assert.Equal(t, media.PhaseUploading, pe.Phase)
}

func TestAbandonedMediaNeverSends(t *testing.T) {
	bm := &blockingMedia{release: make(chan struct{})}
	h := newHarnessWithMedia(t, bm)
	ch, cancel := h.bus.Subscribe(64)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.eng.SendMedia(context.Background(), "c1", "clip.mp4", models.KindVideo, "", nil)
	}()
	var tempID string
	for tempID == "" {
		ev := <-ch
		if ev.Kind == events.MessageAdded {
			tempID = ev.MessageID
		}
	}
	h.eng.AbandonMedia("c1", tempID)
	close(bm.release)
	<-done

	assert.Empty(t, h.messages(t))
	assert.Zero(t, h.api.sendCount())
}

func newHarnessWithMedia(t *testing.T, m MediaRunner) *harness {
	t.Helper()
	h := newHarness(t)
	h.media = m
	h.start(t)
	require.NoError(t, h.eng.Restore())
	return h
}

func TestSentHookRunsForOwnSends(t *testing.T) {
	h := newHarnessWithMedia(t, &blockingMedia{})
	var sent []string
	h.eng.OnMessageSent(func(_ context.Context, convID string) { sent = append(sent, convID) })

	require.NoError(t, h.eng.SendText(context.Background(), "c1", "hi", ""))
	_, err := h.eng.SendMedia(context.Background(), "c1", "dish.png", models.KindImage, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c1"}, sent)

	h.api.setSendErr(&transport.APIError{Status: 422, Message: "nope"})
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "again", ""))
	h.api.setSendErr(nil)
	failed := h.messages(t)[2]
	require.Equal(t, models.StatusFailed, failed.Status)
	require.NoError(t, h.eng.RetryMessage(context.Background(), "c1", failed.ID))
	assert.Len(t, sent, 3, "a retry is not a new message")

	assert.ErrorIs(t, h.eng.SendText(context.Background(), "c1", " ", ""), ErrEmptyMessage)
	assert.Len(t, sent, 3)
}

func TestRestoreKeepsDisplayOrder(t *testing.T) {
	h := newHarness(t)
	start := h.clk.Now()
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m1", SenderID: "agent", Content: "theirs", Timestamp: start}))
	h.clk.Advance(10 * time.Second)
	// the server clock runs behind ours
	h.api.stamp = start.Add(-5 * time.Second)
	require.NoError(t, h.eng.SendText(context.Background(), "c1", "mine", ""))
	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m9", SenderID: "agent", Content: "later", Timestamp: start.Add(20 * time.Second)}))

	contents := func() []string {
		var out []string
		for _, m := range h.messages(t) {
			out = append(out, m.Content)
		}
		return out
	}
	before := contents()
	require.Equal(t, []string{"theirs", "mine", "later"}, before)

	h.mem.Reopen()
	h.start(t)
	require.NoError(t, h.eng.Restore())
	assert.Equal(t, before, contents())

	h.eng.IngestRealtimeEvent(push(t, models.RealtimeNewMessage, models.Message{ID: "m10", SenderID: "agent", Content: "newest", Timestamp: start.Add(30 * time.Second)}))
	assert.Equal(t, []string{"theirs", "mine", "later", "newest"}, contents())
}
