package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL        string
	AuthURL        string
	Username       string
	Password       string
	PairsFile      string
	Concurrency    int
	EnableFallback bool
	UseSyncTask    bool
	PollInterval   time.Duration
	RequestTimeout time.Duration
	PromoteTimeout time.Duration
	StatusAddr     string
	AuditDBURL     string
}

const (
	defaultPairsFile   = "pairs.yaml"
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
	defaultPoll        = 5 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		BaseURL:        os.Getenv("ALMSYNC_BASE_URL"),
		AuthURL:        os.Getenv("ALMSYNC_AUTH_URL"),
		Username:       os.Getenv("ALMSYNC_USERNAME"),
		Password:       os.Getenv("ALMSYNC_PASSWORD"),
		PairsFile:      getEnv("ALMSYNC_PAIRS_FILE", defaultPairsFile),
		Concurrency:    getInt("ALMSYNC_CONCURRENCY", defaultConcurrency),
		EnableFallback: getBool("ALMSYNC_ENABLE_FALLBACK", true),
		UseSyncTask:    getBool("ALMSYNC_USE_SYNC_TASK", false),
		PollInterval:   getDuration("ALMSYNC_POLL_INTERVAL", defaultPoll),
		RequestTimeout: getDuration("ALMSYNC_REQUEST_TIMEOUT", defaultTimeout),
		PromoteTimeout: getDuration("ALMSYNC_PROMOTE_TIMEOUT", 2*defaultTimeout),
		StatusAddr:     os.Getenv("ALMSYNC_STATUS_ADDR"),
		AuditDBURL:     firstNonEmpty(os.Getenv("ALMSYNC_AUDIT_DATABASE_URL"), os.Getenv("DATABASE_URL")),
	}
	if cfg.Username == "" {
		return Config{}, fmt.Errorf("ALMSYNC_USERNAME required")
	}
	if cfg.Password == "" {
		return Config{}, fmt.Errorf("ALMSYNC_PASSWORD required")
	}
	if cfg.Concurrency <= 0 {
		return Config{}, fmt.Errorf("ALMSYNC_CONCURRENCY must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
