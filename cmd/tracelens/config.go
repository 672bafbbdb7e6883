package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/tracking"
)

// Cache backends.
const (
	cacheMemory = "memory"
	cacheLibSQL = "libsql"
	cacheRedis  = "redis"
)

// Config holds all tracelens configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string        `json:"listen_addr"`
	BackendURL      string        `json:"backend_url"`
	LogLevel        string        `json:"log_level"`
	LogFormat       string        `json:"log_format"`
	RefreshSchedule string        `json:"refresh_schedule"`
	ASCIIBinDir     string        `json:"ascii_bin_dir"`
	Layout          layout.Config `json:"layout"`
	Cache           CacheConfig   `json:"cache"`
}

// CacheConfig selects and tunes the layout cache's persistent tier.
type CacheConfig struct {
	Backend       string `json:"backend"`
	Capacity      int    `json:"capacity"`
	DBPath        string `json:"db_path"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisTTL      string `json:"redis_ttl"`
	// PruneSchedule and PruneAfter drop stale libSQL layouts.
	PruneSchedule string `json:"prune_schedule"`
	PruneAfter    string `json:"prune_after"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":7241",
		BackendURL:      "http://localhost:7241",
		LogLevel:        "info",
		LogFormat:       "text",
		RefreshSchedule: tracking.DefaultSchedule,
		Layout:          layout.DefaultConfig(),
		Cache: CacheConfig{
			Backend:       cacheMemory,
			Capacity:      64,
			DBPath:        "file:" + filepath.Join(tracelensDir(), "layouts.db"),
			RedisAddr:     "localhost:6379",
			RedisTTL:      "24h",
			PruneSchedule: "@daily",
			PruneAfter:    "720h",
		},
	}
}

func tracelensDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tracelens"
	}
	return filepath.Join(home, ".tracelens")
}

func settingsPath() string {
	return filepath.Join(tracelensDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers the settings file at path and the environment seen
// through getenv over the defaults.
func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	strs := map[string]*string{
		"TRACELENS_LISTEN_ADDR":      &cfg.ListenAddr,
		"TRACELENS_BACKEND_URL":      &cfg.BackendURL,
		"TRACELENS_LOG_LEVEL":        &cfg.LogLevel,
		"TRACELENS_LOG_FORMAT":       &cfg.LogFormat,
		"TRACELENS_REFRESH_SCHEDULE": &cfg.RefreshSchedule,
		"TRACELENS_ASCII_BIN_DIR":    &cfg.ASCIIBinDir,
		"TRACELENS_CACHE_BACKEND":    &cfg.Cache.Backend,
		"TRACELENS_DB_PATH":          &cfg.Cache.DBPath,
		"TRACELENS_REDIS_ADDR":       &cfg.Cache.RedisAddr,
		"TRACELENS_REDIS_PASSWORD":   &cfg.Cache.RedisPassword,
		"TRACELENS_REDIS_TTL":        &cfg.Cache.RedisTTL,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("TRACELENS_LAYOUT_DIRECTION"); v != "" {
		cfg.Layout.Direction = layout.ParseDirection(v)
	}
	if v := getenv("TRACELENS_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = n
		}
	}
	if v := getenv("TRACELENS_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.RedisDB = n
		}
	}

	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = tracking.DefaultSchedule
	}
	return cfg
}

// duration parses s, falling back to def when s is empty or malformed.
func duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	LayoutChanged   bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.Layout != new.Layout || old.ASCIIBinDir != new.ASCIIBinDir {
		d.LayoutChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.BackendURL != new.BackendURL {
		d.RestartNeeded = append(d.RestartNeeded, "backend_url")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.RefreshSchedule != new.RefreshSchedule {
		d.RestartNeeded = append(d.RestartNeeded, "refresh_schedule")
	}
	if old.Cache != new.Cache {
		d.RestartNeeded = append(d.RestartNeeded, "cache")
	}
	return d
}
