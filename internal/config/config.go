package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingToken    = errors.New("INTERCOM_TOKEN is required")
	ErrMissingDatabase = errors.New("DATABASE_URL is required unless REPLYSYNC_DRY_RUN is set")
)

// MaxPageSize is the largest page the upstream search endpoint accepts.
const MaxPageSize = 150

type Config struct {
	IntercomToken      string
	IntercomBaseURL    string
	IntercomAPIVersion string

	DatabaseURL string
	CursorDSN   string

	PageSize         int
	MaxConversations int
	MaxRows          int
	Lookback         time.Duration
	BackfillBoundary string
	SkipBackfill     bool
	LiveDeadline     time.Duration
	PageDelay        time.Duration
	RetryAttempts    int
	RetryBase        time.Duration
	RetryMax         time.Duration
	DryRun           bool

	Interval time.Duration
	Port     int
	APIToken string

	NatsURL       string
	NatsToken     string
	SlackBotToken string
	SlackChannel  string
	LogLevel      string
}

func Load() Config {
	return Config{
		IntercomToken:      envStr("INTERCOM_TOKEN", ""),
		IntercomBaseURL:    envStr("INTERCOM_BASE_URL", "https://api.intercom.io"),
		IntercomAPIVersion: envStr("INTERCOM_API_VERSION", "2.11"),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		CursorDSN:          envStr("CURSOR_DSN", ""),
		PageSize:           envInt("REPLYSYNC_PAGE_SIZE", 50),
		MaxConversations:   envInt("REPLYSYNC_MAX_CONVERSATIONS", 500),
		MaxRows:            envInt("REPLYSYNC_MAX_ROWS", 0),
		Lookback:           envDuration("REPLYSYNC_LOOKBACK", 24*time.Hour),
		BackfillBoundary:   strings.ToLower(envStr("REPLYSYNC_BACKFILL_BOUNDARY", "month")),
		SkipBackfill:       envBool("REPLYSYNC_SKIP_BACKFILL", false),
		LiveDeadline:       envDuration("REPLYSYNC_LIVE_DEADLINE", 10*time.Minute),
		PageDelay:          envDuration("REPLYSYNC_PAGE_DELAY", time.Second),
		RetryAttempts:      envInt("REPLYSYNC_RETRY_ATTEMPTS", 5),
		RetryBase:          envDuration("REPLYSYNC_RETRY_BASE", time.Second),
		RetryMax:           envDuration("REPLYSYNC_RETRY_MAX", 30*time.Second),
		DryRun:             envBool("REPLYSYNC_DRY_RUN", false),
		Interval:           envDuration("REPLYSYNC_INTERVAL", 15*time.Minute),
		Port:               envInt("REPLYSYNC_PORT", 8760),
		APIToken:           envStr("REPLYSYNC_API_TOKEN", ""),
		NatsURL:            envStr("NATS_URL", ""),
		NatsToken:          envStr("NATS_TOKEN", ""),
		SlackBotToken:      envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:       envStr("SLACK_SYNC_CHANNEL", ""),
		LogLevel:           envStr("LOG_LEVEL", "info"),
	}
}

// Validate reports configuration that must stop the process before any I/O.
func (c Config) Validate() error {
	if strings.TrimSpace(c.IntercomToken) == "" {
		return ErrMissingToken
	}
	if c.DatabaseURL == "" && !c.DryRun {
		return ErrMissingDatabase
	}
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return fmt.Errorf("REPLYSYNC_PAGE_SIZE must be between 1 and %d, got %d", MaxPageSize, c.PageSize)
	}
	if c.MaxConversations < 0 {
		return fmt.Errorf("REPLYSYNC_MAX_CONVERSATIONS must not be negative, got %d", c.MaxConversations)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("REPLYSYNC_MAX_ROWS must not be negative, got %d", c.MaxRows)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("REPLYSYNC_LOOKBACK must be positive, got %s", c.Lookback)
	}
	switch c.BackfillBoundary {
	case "day", "week", "month", "quarter", "year":
	default:
		return fmt.Errorf("REPLYSYNC_BACKFILL_BOUNDARY must be one of day, week, month, quarter, year, got %q", c.BackfillBoundary)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("REPLYSYNC_RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		return fmt.Errorf("retry delays invalid: base=%s max=%s", c.RetryBase, c.RetryMax)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
