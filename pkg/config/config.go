// Package config loads the chatsync configuration from a YAML file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPITimeout    = 15 * time.Second
	defaultRateRPS       = 20
	defaultRateBurst     = 40
	defaultHandshake     = 10 * time.Second
	defaultPingInterval  = 25 * time.Second
	defaultRedialMax     = 30 * time.Second
	defaultMaxDimension  = 1920
	defaultQuality       = 85
	defaultMaxUploadSize = 25 * 1024 * 1024 // 25 MiB

	// queue defaults
	defaultSendAttempts     = 3
	defaultDeleteAttempts   = 5
	defaultMarkReadAttempts = 5
	defaultTypingAttempts   = 1
	defaultBackoffInitial   = 2 * time.Second
	defaultBackoffMax       = 2 * time.Minute
	defaultBackoffMult      = 2.0
	defaultDrainInterval    = 30 * time.Second
	defaultTypingTTL        = 5 * time.Second

	// typing indicators expire after 2s of silence
	defaultTypingExpiry = 2 * time.Second
	defaultTypingIdle   = 2 * time.Second

	defaultStorePath = "./.chatsync"
	defaultSyncCron  = "*/5 * * * *"
	defaultLogLevel  = "info"
)

const (
	StoreModeDurable = "durable"
	StoreModeMemory  = "memory"
)

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value with its default.
func (c *Config) ApplyDefaults() {
	if c.API.Timeout.Duration() == 0 {
		c.API.Timeout = Duration(defaultAPITimeout)
	}
	if c.API.RateLimit.RPS <= 0 {
		c.API.RateLimit.RPS = defaultRateRPS
	}
	if c.API.RateLimit.Burst <= 0 {
		c.API.RateLimit.Burst = defaultRateBurst
	}

	if c.Realtime.HandshakeTimeout.Duration() == 0 {
		c.Realtime.HandshakeTimeout = Duration(defaultHandshake)
	}
	if c.Realtime.PingInterval.Duration() == 0 {
		c.Realtime.PingInterval = Duration(defaultPingInterval)
	}
	if c.Realtime.RedialMax.Duration() == 0 {
		c.Realtime.RedialMax = Duration(defaultRedialMax)
	}

	if c.Media.MaxDimension <= 0 {
		c.Media.MaxDimension = defaultMaxDimension
	}
	if c.Media.Quality <= 0 {
		c.Media.Quality = defaultQuality
	}
	if c.Media.MaxUploadSize.Int64() == 0 {
		c.Media.MaxUploadSize = SizeBytes(defaultMaxUploadSize)
	}

	q := &c.Queue
	if q.MaxAttempts.SendMessage <= 0 {
		q.MaxAttempts.SendMessage = defaultSendAttempts
	}
	if q.MaxAttempts.DeleteMessage <= 0 {
		q.MaxAttempts.DeleteMessage = defaultDeleteAttempts
	}
	if q.MaxAttempts.MarkRead <= 0 {
		q.MaxAttempts.MarkRead = defaultMarkReadAttempts
	}
	if q.MaxAttempts.Typing <= 0 {
		q.MaxAttempts.Typing = defaultTypingAttempts
	}
	if q.Backoff.Initial.Duration() == 0 {
		q.Backoff.Initial = Duration(defaultBackoffInitial)
	}
	if q.Backoff.Max.Duration() == 0 {
		q.Backoff.Max = Duration(defaultBackoffMax)
	}
	if q.Backoff.Multiplier == 0 {
		q.Backoff.Multiplier = defaultBackoffMult
	}
	if q.DrainInterval.Duration() == 0 {
		q.DrainInterval = Duration(defaultDrainInterval)
	}
	if q.TypingTTL.Duration() == 0 {
		q.TypingTTL = Duration(defaultTypingTTL)
	}

	if c.Presence.TypingExpiry.Duration() == 0 {
		c.Presence.TypingExpiry = Duration(defaultTypingExpiry)
	}
	if c.Presence.TypingIdle.Duration() == 0 {
		c.Presence.TypingIdle = Duration(defaultTypingIdle)
	}

	if c.Store.Mode == "" {
		c.Store.Mode = StoreModeDurable
	}
	if c.Store.Path == "" && c.Store.Mode == StoreModeDurable {
		c.Store.Path = defaultStorePath
	}
	if c.Sync.Cron == "" {
		c.Sync.Cron = defaultSyncCron
	}
	if c.User.Role == "" {
		c.User.Role = "user"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
