package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/tiffinwaleofficial/student-app-sub001/internal/resync"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/config"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/engine"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/events"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/media"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/presence"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/queue"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/realtime"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/kv"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

// App groups the engine and the components around it.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	bus      *events.Bus
	cache    *store.Cache
	client   *transport.Client
	queue    *queue.Queue
	tracker  *presence.Tracker
	engine   *engine.Engine
	realtime *realtime.Manager
	resync   *resync.Manager

	typing       *presence.Debouncer
	typingCancel context.CancelFunc
	resyncCancel context.CancelFunc
	srvFast      *fasthttp.Server
}

// New opens the local store and builds every component. Nothing talks to the
// network until Run.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	cfg := eff.Config
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{eff: eff, version: version}

	a.registry = prometheus.NewRegistry()
	a.metrics = telemetry.New(a.registry)
	a.bus = events.NewBus()
	a.bus.OnDrop(a.metrics.EventDropped)

	cache, err := openCache(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.cache = cache

	a.client = transport.New(transport.Options{
		BaseURL:      cfg.API.BaseURL,
		Token:        cfg.API.Token,
		Timeout:      cfg.API.Timeout.Duration(),
		RPS:          cfg.API.RateLimit.RPS,
		Burst:        cfg.API.RateLimit.Burst,
		UploadURL:    cfg.Media.UploadURL,
		UploadPreset: cfg.Media.UploadPreset,
		Folder:       cfg.Media.Folder,
		MaxDimension: cfg.Media.MaxDimension,
		Quality:      cfg.Media.Quality,
		Metrics:      a.metrics,
	})

	var eng *engine.Engine
	a.queue, err = queue.New(cache, queue.Options{
		MaxAttempts: map[models.ActionKind]int{
			models.ActionSendMessage:   cfg.Queue.MaxAttempts.SendMessage,
			models.ActionDeleteMessage: cfg.Queue.MaxAttempts.DeleteMessage,
			models.ActionMarkRead:      cfg.Queue.MaxAttempts.MarkRead,
			models.ActionTyping:        cfg.Queue.MaxAttempts.Typing,
		},
		Backoff: queue.BackoffOptions{
			Initial:    cfg.Queue.Backoff.Initial.Duration(),
			Max:        cfg.Queue.Backoff.Max.Duration(),
			Multiplier: cfg.Queue.Backoff.Multiplier,
		},
		DrainInterval: cfg.Queue.DrainInterval.Duration(),
		Ready:         func() bool { return eng != nil && eng.Online() },
		Metrics:       a.metrics,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	a.tracker = presence.NewTracker(cfg.User.ID, cfg.Presence.TypingExpiry.Duration(), a.bus)

	opts := engine.Options{
		Self:      models.Participant{ID: cfg.User.ID, Name: cfg.User.Name, Role: models.ParticipantRole(cfg.User.Role)},
		Cache:     cache,
		API:       a.client,
		Queue:     a.queue,
		Presence:  a.tracker,
		Bus:       a.bus,
		Metrics:   a.metrics,
		TypingTTL: cfg.Queue.TypingTTL.Duration(),
	}
	if cfg.Media.UploadURL != "" {
		opts.Media = media.NewPipeline(a.client, media.Options{
			Optimizer:     media.Optimizer{MaxDimension: cfg.Media.MaxDimension, Quality: cfg.Media.Quality},
			MaxUploadSize: cfg.Media.MaxUploadSize.Int64(),
			Metrics:       a.metrics,
		})
	}
	eng, err = engine.New(opts)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	a.engine = eng
	a.queue.Bind(eng, eng)
	a.tracker.OnPresence(eng.ApplyPresence)

	typingCtx, typingCancel := context.WithCancel(context.Background())
	a.typing = presence.NewDebouncer(typingCtx, eng, cfg.Presence.TypingIdle.Duration())
	a.typingCancel = typingCancel
	eng.OnMessageSent(a.typing.MessageSent)

	if cfg.Realtime.URL != "" {
		a.realtime = realtime.NewManager(&realtime.WSDialer{
			URL:              cfg.Realtime.URL,
			Token:            cfg.API.Token,
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout.Duration(),
			PingInterval:     cfg.Realtime.PingInterval.Duration(),
		}, realtime.Options{
			Messages:     eng,
			Presence:     a.tracker,
			RedialMax:    cfg.Realtime.RedialMax.Duration(),
			Metrics:      a.metrics,
			OnConnection: a.connectionChanged,
		})
	}

	if cfg.Sync.Enabled {
		a.resync, err = resync.New(resync.Options{Cron: cfg.Sync.Cron, Conversations: a.syncTargets}, eng, a.queue)
		if err != nil {
			_ = cache.Close()
			return nil, err
		}
	}

	logger.LogConfigSummary("chatsync_config", []string{
		fmt.Sprintf("api: %s", cfg.API.BaseURL),
		fmt.Sprintf("realtime: %s", orNone(cfg.Realtime.URL)),
		fmt.Sprintf("media_upload: %s (max %s)", orNone(cfg.Media.UploadURL), humanize.IBytes(uint64(cfg.Media.MaxUploadSize.Int64()))),
		fmt.Sprintf("store: %s %s", cfg.Store.Mode, cfg.Store.Path),
		fmt.Sprintf("queued_actions: %d", a.queue.Len()),
		fmt.Sprintf("sync: %v %s", cfg.Sync.Enabled, cfg.Sync.Cron),
	})
	return a, nil
}

func openCache(sc config.StoreConfig) (*store.Cache, error) {
	var backend kv.KV
	if sc.Mode == config.StoreModeMemory {
		backend = kv.NewMemory()
	} else {
		p, err := kv.OpenPebble(filepath.Join(sc.Path, "cache"))
		if err != nil {
			return nil, fmt.Errorf("open store at %s: %w", sc.Path, err)
		}
		backend = p
	}
	cache := store.NewCache(backend)
	if err := cache.EnsureSchema(); err != nil {
		_ = cache.Close()
		return nil, err
	}
	return cache, nil
}

func (a *App) Engine() *engine.Engine         { return a.engine }
func (a *App) Bus() *events.Bus               { return a.bus }
func (a *App) Typing() *presence.Debouncer    { return a.typing }
func (a *App) Tracker() *presence.Tracker     { return a.tracker }
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run restores the cache, connects and blocks until ctx is done or the
// metrics server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.engine.Restore(); err != nil {
		return err
	}
	a.engine.SetOnline(true)

	if err := a.engine.LoadConversations(ctx); err != nil {
		logger.Warn("initial_sync_failed", "error", err)
	}
	if a.realtime != nil {
		var active []string
		for _, c := range a.engine.Conversations() {
			if c.Active {
				active = append(active, c.ID)
			}
		}
		// offline until a realtime connection comes up
		if len(active) > 0 {
			a.engine.SetOnline(false)
		}
		for _, id := range active {
			if err := a.realtime.Subscribe(id); err != nil {
				return err
			}
		}
	}

	go a.queue.Run(ctx)
	if a.resync != nil {
		a.resyncCancel = a.resync.Start(ctx)
	}
	go a.logEvents(ctx)

	errCh := a.startHTTP()
	logger.Info("chatsync_started", "version", a.version, "conversations", len(a.engine.Conversations()))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// connectionChanged follows realtime connectivity: online while any
// subscription is connected, or when nothing is subscribed.
func (a *App) connectionChanged(connected, subscribed int) {
	online := connected > 0 || subscribed == 0
	if online == a.engine.Online() {
		return
	}
	logger.Info("connectivity_changed", "online", online, "connected", connected, "subscribed", subscribed)
	a.engine.SetOnline(online)
}

// Shutdown stops every component and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown_requested")
	if a.srvFast != nil {
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("metrics_server_shutdown_failed", "error", err)
		}
	}
	if a.resyncCancel != nil {
		a.resyncCancel()
	}
	a.typing.Stop()
	a.typingCancel()
	if a.realtime != nil {
		_ = a.realtime.Close()
	}
	a.tracker.Close()
	a.engine.SetOnline(false)

	// the queue may be mid-drain; give it a moment to settle before closing
	deadline := time.Now().Add(2 * time.Second)
	for _, err := a.queue.Process(ctx); errors.Is(err, queue.ErrDrainInProgress) && time.Now().Before(deadline); _, err = a.queue.Process(ctx) {
		time.Sleep(50 * time.Millisecond)
	}
	err := a.cache.Close()
	logger.Info("shutdown_complete")
	return err
}

// syncTargets lists the conversations refreshed by resync.
func (a *App) syncTargets() []string {
	if a.realtime != nil {
		return a.realtime.Subscriptions()
	}
	convs := a.engine.Conversations()
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids
}

// logEvents writes engine events to the log; the daemon has no UI.
func (a *App) logEvents(ctx context.Context) {
	ch, cancel := a.bus.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			args := []any{"kind", string(ev.Kind), "conversation", ev.ConversationID}
			if ev.MessageID != "" {
				args = append(args, "message", ev.MessageID)
			}
			if ev.Message != nil {
				args = append(args, "status", string(ev.Message.Status))
			}
			if ev.Err != nil {
				args = append(args, "error", ev.Err)
			}
			logger.Debug("engine_event", args...)
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
