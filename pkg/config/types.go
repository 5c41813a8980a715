package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Media    MediaConfig    `yaml:"media"`
	Queue    QueueConfig    `yaml:"queue"`
	Presence PresenceConfig `yaml:"presence"`
	Store    StoreConfig    `yaml:"store"`
	Sync     SyncConfig     `yaml:"sync"`
	User     UserConfig     `yaml:"user"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// APIConfig points at the remote chat API.
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Token     string   `yaml:"token"`
	Timeout   Duration `yaml:"timeout"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// RealtimeConfig holds the websocket endpoint settings.
type RealtimeConfig struct {
	URL              string   `yaml:"url"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	PingInterval     Duration `yaml:"ping_interval"`
	RedialMax        Duration `yaml:"redial_max"`
}

// MediaConfig holds media host and image optimization settings.
type MediaConfig struct {
	UploadURL     string    `yaml:"upload_url"`
	UploadPreset  string    `yaml:"upload_preset"`
	Folder        string    `yaml:"folder"`
	MaxDimension  int       `yaml:"max_dimension"`
	Quality       int       `yaml:"quality"`
	MaxUploadSize SizeBytes `yaml:"max_upload_size"`
}

// QueueConfig controls the offline action queue.
type QueueConfig struct {
	MaxAttempts struct {
		SendMessage   int `yaml:"send_message"`
		DeleteMessage int `yaml:"delete_message"`
		MarkRead      int `yaml:"mark_read"`
		Typing        int `yaml:"typing"`
	} `yaml:"max_attempts"`
	Backoff struct {
		Initial    Duration `yaml:"initial"`
		Max        Duration `yaml:"max"`
		Multiplier float64  `yaml:"multiplier"`
	} `yaml:"backoff"`
	DrainInterval Duration `yaml:"drain_interval"`
	// TypingTTL bounds how long a queued typing ping stays useful.
	TypingTTL Duration `yaml:"typing_ttl"`
}

// PresenceConfig holds typing indicator timings.
type PresenceConfig struct {
	TypingExpiry Duration `yaml:"typing_expiry"`
	TypingIdle   Duration `yaml:"typing_idle"`
}

// StoreConfig selects where local state is persisted.
type StoreConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"` // "durable" or "memory"
}

// SyncConfig controls the scheduled resync runner.
type SyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// UserConfig identifies the signed-in user the engine acts for.
type UserConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the prometheus endpoint address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "10MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration wraps time.Duration and parses strings like "500ms" or plain numbers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
