package storage

import (
	"errors"
	"time"
)

var (
	// ErrTenantNotFound is returned by FindTenant for unknown tenant ids.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process only, lost on restart (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Tenant is one configured community: where to pull candidates from and
// where/when to post them. Rows are written by the admin command surface
// and read-only to the ingestion engine.
type Tenant struct {
	ID        string // unique tenant id (Telegram: origin chat id)
	ProjectID string // feed project to poll
	Channel   string // destination channel reference, opaque to the core
	Schedule  string // cron pattern
	Pages     int    // page budget per sweep; 0 means fetcher default
	Enabled   bool
	UpdatedAt time.Time
}

// SeenRecord marks one item as already published for a tenant.
// Records are never mutated or deleted.
type SeenRecord struct {
	TenantID string
	ItemID   string
	SeenAt   time.Time
}
