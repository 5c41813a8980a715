package config

import (
	"fmt"
	"net/url"

	"github.com/adhocore/gronx"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api base url is empty: set --api flag, CHATSYNC_API_BASE_URL env, or api.base_url in config")
	}
	if err := validateURL("api.base_url", cfg.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if cfg.Realtime.URL != "" {
		if err := validateURL("realtime.url", cfg.Realtime.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if cfg.Media.UploadURL != "" {
		if err := validateURL("media.upload_url", cfg.Media.UploadURL, "http", "https"); err != nil {
			return err
		}
	}
	if cfg.User.ID == "" {
		return fmt.Errorf("user id is empty: set CHATSYNC_USER_ID or user.id in config")
	}
	switch cfg.User.Role {
	case "user", "admin", "restaurant":
	default:
		return fmt.Errorf("invalid user.role %q", cfg.User.Role)
	}

	if cfg.Media.Quality < 1 || cfg.Media.Quality > 100 {
		return fmt.Errorf("media.quality must be within 1-100, got %d", cfg.Media.Quality)
	}
	if cfg.Queue.Backoff.Multiplier < 1 {
		return fmt.Errorf("queue.backoff.multiplier must be >= 1, got %v", cfg.Queue.Backoff.Multiplier)
	}
	if cfg.Queue.Backoff.Max < cfg.Queue.Backoff.Initial {
		return fmt.Errorf("queue.backoff.max (%s) is below queue.backoff.initial (%s)", cfg.Queue.Backoff.Max, cfg.Queue.Backoff.Initial)
	}

	switch cfg.Store.Mode {
	case StoreModeDurable:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store path is empty: set --db flag, CHATSYNC_STORE_PATH env, or store.path in config")
		}
	case StoreModeMemory:
	default:
		return fmt.Errorf("invalid store.mode %q: want durable or memory", cfg.Store.Mode)
	}

	if cfg.Sync.Enabled && !gronx.New().IsValid(cfg.Sync.Cron) {
		return fmt.Errorf("invalid sync.cron: not a valid cron expression: %s", cfg.Sync.Cron)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: want scheme %v with a host", field, raw, schemes)
}
