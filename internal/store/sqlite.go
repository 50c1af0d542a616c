//go:build sqlite
// +build sqlite

package store

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

	logx "childebot/pkg/logx"
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

// ensureTenant creates the tenant row lazily (enabled by default).
func (s *sqliteStore) ensureTenant(ctx context.Context, tenant TenantID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(tenant) VALUES(?) ON CONFLICT(tenant) DO NOTHING`, string(tenant))
	return err
}

func (s *sqliteStore) AddItem(ctx context.Context, tenant TenantID, it Item) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(tenant, id, text, added_at) VALUES(?,?,?,?)`,
		string(tenant), it.ID, it.Text, it.AddedAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) PeekFirst(ctx context.Context, tenant TenantID) (Item, bool, error) {
	var it Item
	var added string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, added_at FROM items WHERE tenant = ? ORDER BY seq LIMIT 1`,
		string(tenant)).Scan(&it.ID, &it.Text, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	it.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
	return it, true, nil
}

func (s *sqliteStore) RemoveItem(ctx context.Context, tenant TenantID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE seq = (
		     SELECT seq FROM items WHERE tenant = ? AND text = ? ORDER BY seq LIMIT 1)`,
		string(tenant), text)
	return err
}

func (s *sqliteStore) ListItems(ctx context.Context, tenant TenantID) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, added_at FROM items WHERE tenant = ? ORDER BY seq`, string(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var added string
		if err := rows.Scan(&it.ID, &it.Text, &added); err != nil {
			return nil, err
		}
		it.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClearItems(ctx context.Context, tenant TenantID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE tenant = ?`, string(tenant))
	return err
}

func (s *sqliteStore) setField(ctx context.Context, tenant TenantID, column string, value any) error {
	// column is always a literal from this file, never user input.
	q := fmt.Sprintf(
		`INSERT INTO tenants(tenant, %[1]s) VALUES(?,?)
		 ON CONFLICT(tenant) DO UPDATE SET %[1]s = excluded.%[1]s`, column)
	_, err := s.db.ExecContext(ctx, q, string(tenant), value)
	return err
}

func (s *sqliteStore) SetDestination(ctx context.Context, tenant TenantID, destination string) error {
	return s.setField(ctx, tenant, "destination", destination)
}

func (s *sqliteStore) SetTagText(ctx context.Context, tenant TenantID, tag string) error {
	return s.setField(ctx, tenant, "tag_text", tag)
}

func (s *sqliteStore) SetFallbackText(ctx context.Context, tenant TenantID, text string) error {
	return s.setField(ctx, tenant, "fallback_text", text)
}

func (s *sqliteStore) SetEnabled(ctx context.Context, tenant TenantID, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return s.setField(ctx, tenant, "enabled", v)
}

func (s *sqliteStore) SetPolicy(ctx context.Context, tenant TenantID, p TriggerPolicy) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET policy_kind = ?, policy_hour = ?, policy_minute = ?,
		        policy_tz = ?, policy_every = ? WHERE tenant = ?`,
		string(p.Kind), p.Hour, p.Minute, p.Timezone, p.EveryHours, string(tenant))
	return err
}

func (s *sqliteStore) GetConfig(ctx context.Context, tenant TenantID) (ScheduleConfig, bool, error) {
	var c ScheduleConfig
	var enabled int
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT destination, tag_text, fallback_text, enabled,
		        policy_kind, policy_hour, policy_minute, policy_tz, policy_every
		   FROM tenants WHERE tenant = ?`, string(tenant)).
		Scan(&c.Destination, &c.TagText, &c.FallbackText, &enabled,
			&kind, &c.Policy.Hour, &c.Policy.Minute, &c.Policy.Timezone, &c.Policy.EveryHours)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleConfig{}, false, nil
	}
	if err != nil {
		return ScheduleConfig{}, false, err
	}
	c.Enabled = enabled != 0
	c.Policy.Kind = PolicyKind(kind)
	return c, true, nil
}

func (s *sqliteStore) Tenants(ctx context.Context) ([]TenantID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant FROM tenants WHERE destination <> '' ORDER BY tenant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TenantID
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, TenantID(t))
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveTenant(ctx context.Context, tenant TenantID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE tenant = ?`, string(tenant)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE tenant = ?`, string(tenant))
	return err
}

func (s *sqliteStore) LastFired(ctx context.Context, tenant TenantID) (string, error) {
	var w string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_window FROM tenants WHERE tenant = ?`, string(tenant)).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return w, err
}

func (s *sqliteStore) MarkFired(ctx context.Context, tenant TenantID, window string, at time.Time) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_window = ?, fired_at = ? WHERE tenant = ?`,
		window, at.Format(time.RFC3339Nano), string(tenant))
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, tenant, action, detail, ok, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), string(e.Tenant), e.Action, nullStr(e.Detail), ok, nullStr(e.Error))
	return err
}
