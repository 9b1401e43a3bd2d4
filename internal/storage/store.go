package storage

import (
	"context"
	"errors"
	"strings"

	"spotbot/pkg/logx"
)

// Store is the persistence API used by the engine, scheduler and commands.
//
// Seen-record semantics:
//   - MarkSeen is idempotent; marking twice is not an error.
//   - FindUnseen returns the subset of ids not yet seen, input order preserved.
//   - There is no way to un-see an item.
type Store interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	FindTenant(ctx context.Context, id string) (Tenant, error)
	UpsertTenant(ctx context.Context, t Tenant) error

	HasSeen(ctx context.Context, tenantID, itemID string) (bool, error)
	MarkSeen(ctx context.Context, tenantID, itemID string) error
	FindUnseen(ctx context.Context, tenantID string, itemIDs []string) ([]string, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
