package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the process-level configuration (bot credentials, feed endpoint,
// logging, storage). Per-tenant settings live in storage, not here; this
// file is about how the process runs, not what it posts.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Feed     FeedConfig     `json:"feed"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

type FeedConfig struct {
	BaseURL        string  `json:"base_url"`
	PageSize       int     `json:"page_size,omitempty"`
	MaxPages       int     `json:"max_pages,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate rejects configs the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Feed.BaseURL) == "" {
		errs = append(errs, errors.New("feed.base_url is required"))
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if (driver == "" || driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
	}
	for _, pair := range []struct{ name, raw string }{
		{"feed.request_timeout", c.Feed.RequestTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDuration(pair.raw, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pair.name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseDuration parses an optional duration string, returning def when empty.
func ParseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}
