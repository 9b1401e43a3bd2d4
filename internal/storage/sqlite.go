package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spotbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, channel, schedule, pages, enabled, updated_at
		 FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindTenant(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, channel, schedule, pages, enabled, updated_at
		 FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	return t, err
}

func (s *sqliteStore) UpsertTenant(ctx context.Context, t Tenant) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, project_id, channel, schedule, pages, enabled, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   project_id=excluded.project_id,
		   channel=excluded.channel,
		   schedule=excluded.schedule,
		   pages=excluded.pages,
		   enabled=excluded.enabled,
		   updated_at=excluded.updated_at`,
		t.ID, t.ProjectID, t.Channel, t.Schedule, t.Pages, boolToInt(t.Enabled),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) HasSeen(ctx context.Context, tenantID, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_items WHERE tenant_id = ? AND item_id = ?`,
		tenantID, itemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkSeen(ctx context.Context, tenantID, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items(tenant_id, item_id, seen_at) VALUES(?,?,?)`,
		tenantID, itemID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// findUnseenChunk keeps IN() lists well under SQLite's bound-variable limit.
const findUnseenChunk = 500

func (s *sqliteStore) FindUnseen(ctx context.Context, tenantID string, itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(itemIDs))
	for start := 0; start < len(itemIDs); start += findUnseenChunk {
		end := start + findUnseenChunk
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		chunk := itemIDs[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, tenantID)
		for _, id := range chunk {
			args = append(args, id)
		}
		query := `SELECT item_id FROM seen_items WHERE tenant_id = ? AND item_id IN (` +
			placeholders(len(chunk)) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			seen[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	unseen := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := seen[id]; !ok {
			unseen = append(unseen, id)
		}
	}
	return unseen, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(r rowScanner) (Tenant, error) {
	var (
		t       Tenant
		enabled int
		updated string
	)
	if err := r.Scan(&t.ID, &t.ProjectID, &t.Channel, &t.Schedule, &t.Pages, &enabled, &updated); err != nil {
		return Tenant{}, err
	}
	t.Enabled = enabled != 0
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		t.UpdatedAt = ts
	}
	return t, nil
}
