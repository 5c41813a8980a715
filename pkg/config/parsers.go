package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Config      string
	DB          string
	API         string
	MetricsAddr string
	LogLevel    string
	Set         map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	EnvUsed bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	// Sources lists what contributed, lowest priority first.
	Sources []string
}

// parses command-line flags from args
func ParseConfigFlags(name string, args []string) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPtr := fs.String("config", "./chatsync.yaml", "Path to config file")
	dbPtr := fs.String("db", "", "Local store path")
	apiPtr := fs.String("api", "", "Remote API base URL")
	metricsPtr := fs.String("metrics-addr", "", "Prometheus listen address")
	levelPtr := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{
		Config:      *cfgPtr,
		DB:          *dbPtr,
		API:         *apiPtr,
		MetricsAddr: *metricsPtr,
		LogLevel:    *levelPtr,
		Set:         setFlags,
	}, nil
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// loads CHATSYNC_* environment variables into a new Config
func ParseConfigEnvs(getenv func(string) string) (*Config, EnvResult) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(k string) string { return strings.TrimSpace(getenv("CHATSYNC_" + k)) }

	envCfg := &Config{}
	used := false
	str := func(k string, dst *string) {
		if v := env(k); v != "" {
			*dst = v
			used = true
		}
	}
	dur := func(k string, dst *Duration) {
		if v := env(k); v != "" {
			if d, err := parseDuration(v); err == nil {
				*dst = d
				used = true
			}
		}
	}
	integer := func(k string, dst *int) {
		if v := env(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				used = true
			}
		}
	}

	str("API_BASE_URL", &envCfg.API.BaseURL)
	str("API_TOKEN", &envCfg.API.Token)
	dur("API_TIMEOUT", &envCfg.API.Timeout)
	if v := env("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			envCfg.API.RateLimit.RPS = f
			used = true
		}
	}
	integer("RATE_BURST", &envCfg.API.RateLimit.Burst)

	str("REALTIME_URL", &envCfg.Realtime.URL)
	dur("REALTIME_PING_INTERVAL", &envCfg.Realtime.PingInterval)

	str("MEDIA_UPLOAD_URL", &envCfg.Media.UploadURL)
	str("MEDIA_UPLOAD_PRESET", &envCfg.Media.UploadPreset)
	str("MEDIA_FOLDER", &envCfg.Media.Folder)
	integer("MEDIA_MAX_DIMENSION", &envCfg.Media.MaxDimension)
	integer("MEDIA_QUALITY", &envCfg.Media.Quality)
	if v := env("MEDIA_MAX_UPLOAD_SIZE"); v != "" {
		if s, err := parseSize(v); err == nil {
			envCfg.Media.MaxUploadSize = s
			used = true
		}
	}

	integer("QUEUE_SEND_MAX_ATTEMPTS", &envCfg.Queue.MaxAttempts.SendMessage)
	dur("QUEUE_DRAIN_INTERVAL", &envCfg.Queue.DrainInterval)
	dur("QUEUE_BACKOFF_INITIAL", &envCfg.Queue.Backoff.Initial)
	dur("QUEUE_BACKOFF_MAX", &envCfg.Queue.Backoff.Max)

	str("STORE_PATH", &envCfg.Store.Path)
	if v := env("STORE_MODE"); v != "" {
		envCfg.Store.Mode = strings.ToLower(v)
		used = true
	}

	if v := env("SYNC_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			envCfg.Sync.Enabled = true
		default:
			envCfg.Sync.Enabled = false
		}
		used = true
	}
	str("SYNC_CRON", &envCfg.Sync.Cron)

	str("USER_ID", &envCfg.User.ID)
	str("USER_NAME", &envCfg.User.Name)
	str("USER_ROLE", &envCfg.User.Role)

	str("LOG_LEVEL", &envCfg.Logging.Level)
	str("METRICS_ADDR", &envCfg.Metrics.Addr)

	return envCfg, EnvResult{EnvUsed: used}
}

// merges file < env < flags; zero values never override
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}

	out := &Config{}
	if fileExists && fileCfg != nil {
		*out = *fileCfg
		res.Sources = append(res.Sources, "config")
	}
	if envRes.EnvUsed && envCfg != nil {
		if err := mergo.Merge(out, envCfg, mergo.WithOverride); err != nil {
			return res, fmt.Errorf("merge env config: %w", err)
		}
		res.Sources = append(res.Sources, "env")
	}

	flagCfg := &Config{}
	if flags.Set["db"] {
		flagCfg.Store.Path = flags.DB
	}
	if flags.Set["api"] {
		flagCfg.API.BaseURL = flags.API
	}
	if flags.Set["metrics-addr"] {
		flagCfg.Metrics.Addr = flags.MetricsAddr
	}
	if flags.Set["log-level"] {
		flagCfg.Logging.Level = flags.LogLevel
	}
	if len(flags.Set) > 0 {
		if err := mergo.Merge(out, flagCfg, mergo.WithOverride); err != nil {
			return res, fmt.Errorf("merge flag config: %w", err)
		}
		res.Sources = append(res.Sources, "flags")
	}
	if len(res.Sources) == 0 {
		res.Sources = []string{"defaults"}
	}
	res.Config = out
	return res, nil
}
