// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shouni/go-utils/envutil"
)

const (
	DefaultBackendURL     = "http://localhost:8000"
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultListenAddr     = ":8080"
	DefaultPusherCluster  = "ap2"
	DefaultAdminUserID    = 1
	DefaultIdleTTL        = 30 * time.Minute
	DefaultRetention      = 30 * 24 * time.Hour
	DefaultPruneSchedule  = "0 0 3 * * *"
	DefaultDotEnvFilename = ".env"
)

type Config struct {
	BackendURL         string
	HTTPTimeout        time.Duration
	ListenAddr         string
	SessionSecret      string
	PusherAppKey       string
	PusherCluster      string
	PusherHost         string
	AdminDefaultUserID int64
	IdleTTL            time.Duration
	HistoryDB          string
	HistoryRetention   time.Duration
	PruneSchedule      string
	Token              string
	Verbose            bool
}

// Load reads path (missing is fine) into the process environment without overriding
// variables already set, then builds the configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultDotEnvFilename
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}

	cfg := &Config{
		BackendURL:    strings.TrimRight(envutil.GetEnv("BACKEND_URL", DefaultBackendURL), "/"),
		ListenAddr:    envutil.GetEnv("LISTEN_ADDR", DefaultListenAddr),
		SessionSecret: envutil.GetEnv("SESSION_SECRET", ""),
		PusherAppKey:  envutil.GetEnv("PUSHER_APP_KEY", ""),
		PusherCluster: envutil.GetEnv("PUSHER_CLUSTER", DefaultPusherCluster),
		PusherHost:    envutil.GetEnv("PUSHER_HOST", ""),
		HistoryDB:     envutil.GetEnv("HISTORY_DB", ""),
		PruneSchedule: envutil.GetEnv("HISTORY_PRUNE_SCHEDULE", DefaultPruneSchedule),
		Token:         envutil.GetEnv("VARDASH_TOKEN", ""),
	}

	var err error
	if cfg.HTTPTimeout, err = duration("HTTP_TIMEOUT", DefaultHTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.IdleTTL, err = duration("DASHBOARD_IDLE_TTL", DefaultIdleTTL); err != nil {
		return nil, err
	}
	if cfg.HistoryRetention, err = duration("HISTORY_RETENTION", DefaultRetention); err != nil {
		return nil, err
	}

	adminID := envutil.GetEnv("ADMIN_DEFAULT_USER_ID", strconv.Itoa(DefaultAdminUserID))
	if cfg.AdminDefaultUserID, err = strconv.ParseInt(adminID, 10, 64); err != nil || cfg.AdminDefaultUserID <= 0 {
		return nil, fmt.Errorf("invalid ADMIN_DEFAULT_USER_ID %q", adminID)
	}

	verbose := envutil.GetEnv("VERBOSE", "false")
	if cfg.Verbose, err = strconv.ParseBool(verbose); err != nil {
		return nil, fmt.Errorf("invalid VERBOSE %q: %w", verbose, err)
	}

	return cfg, nil
}

// duration accepts Go duration strings and bare seconds.
func duration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(envutil.GetEnv(key, ""))
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

// TimeoutSeconds is HTTPTimeout rounded up to whole seconds.
func (c *Config) TimeoutSeconds() int {
	secs := int(c.HTTPTimeout / time.Second)
	if c.HTTPTimeout%time.Second != 0 {
		secs++
	}
	return secs
}
