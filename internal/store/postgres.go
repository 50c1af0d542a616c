package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "childebot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tenants (
    tenant        TEXT PRIMARY KEY,
    destination   TEXT NOT NULL DEFAULT '',
    tag_text      TEXT NOT NULL DEFAULT '',
    fallback_text TEXT NOT NULL DEFAULT '',
    enabled       BOOLEAN NOT NULL DEFAULT TRUE,
    policy_kind   TEXT NOT NULL DEFAULT '',
    policy_hour   INTEGER NOT NULL DEFAULT 0,
    policy_minute INTEGER NOT NULL DEFAULT 0,
    policy_tz     TEXT NOT NULL DEFAULT '',
    policy_every  INTEGER NOT NULL DEFAULT 0,
    last_window   TEXT NOT NULL DEFAULT '',
    fired_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS items (
    seq      BIGSERIAL PRIMARY KEY,
    tenant   TEXT NOT NULL,
    id       TEXT NOT NULL,
    text     TEXT NOT NULL,
    added_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_tenant_seq ON items(tenant, seq);

CREATE TABLE IF NOT EXISTS audit (
    at     TIMESTAMPTZ NOT NULL,
    tenant TEXT NOT NULL,
    action TEXT NOT NULL,
    detail TEXT,
    ok     BOOLEAN NOT NULL,
    err    TEXT
);
`

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &postgresStore{db: db, log: log}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) ensureTenant(ctx context.Context, tenant TenantID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(tenant) VALUES($1) ON CONFLICT(tenant) DO NOTHING`, string(tenant))
	return err
}

func (s *postgresStore) AddItem(ctx context.Context, tenant TenantID, it Item) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(tenant, id, text, added_at) VALUES($1,$2,$3,$4)`,
		string(tenant), it.ID, it.Text, it.AddedAt)
	return err
}

func (s *postgresStore) PeekFirst(ctx context.Context, tenant TenantID) (Item, bool, error) {
	var it Item
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, added_at FROM items WHERE tenant = $1 ORDER BY seq LIMIT 1`,
		string(tenant)).Scan(&it.ID, &it.Text, &it.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

func (s *postgresStore) RemoveItem(ctx context.Context, tenant TenantID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE seq = (
		     SELECT seq FROM items WHERE tenant = $1 AND text = $2 ORDER BY seq LIMIT 1)`,
		string(tenant), text)
	return err
}

func (s *postgresStore) ListItems(ctx context.Context, tenant TenantID) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, added_at FROM items WHERE tenant = $1 ORDER BY seq`, string(tenant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Text, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *postgresStore) ClearItems(ctx context.Context, tenant TenantID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE tenant = $1`, string(tenant))
	return err
}

func (s *postgresStore) setField(ctx context.Context, tenant TenantID, column string, value any) error {
	// column is always a literal from this file, never user input.
	q := `INSERT INTO tenants(tenant, ` + column + `) VALUES($1,$2)
	      ON CONFLICT(tenant) DO UPDATE SET ` + column + ` = excluded.` + column
	_, err := s.db.ExecContext(ctx, q, string(tenant), value)
	return err
}

func (s *postgresStore) SetDestination(ctx context.Context, tenant TenantID, destination string) error {
	return s.setField(ctx, tenant, "destination", destination)
}

func (s *postgresStore) SetTagText(ctx context.Context, tenant TenantID, tag string) error {
	return s.setField(ctx, tenant, "tag_text", tag)
}

func (s *postgresStore) SetFallbackText(ctx context.Context, tenant TenantID, text string) error {
	return s.setField(ctx, tenant, "fallback_text", text)
}

func (s *postgresStore) SetEnabled(ctx context.Context, tenant TenantID, enabled bool) error {
	return s.setField(ctx, tenant, "enabled", enabled)
}

func (s *postgresStore) SetPolicy(ctx context.Context, tenant TenantID, p TriggerPolicy) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET policy_kind = $1, policy_hour = $2, policy_minute = $3,
		        policy_tz = $4, policy_every = $5 WHERE tenant = $6`,
		string(p.Kind), p.Hour, p.Minute, p.Timezone, p.EveryHours, string(tenant))
	return err
}

func (s *postgresStore) GetConfig(ctx context.Context, tenant TenantID) (ScheduleConfig, bool, error) {
	var c ScheduleConfig
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT destination, tag_text, fallback_text, enabled,
		        policy_kind, policy_hour, policy_minute, policy_tz, policy_every
		   FROM tenants WHERE tenant = $1`, string(tenant)).
		Scan(&c.Destination, &c.TagText, &c.FallbackText, &c.Enabled,
			&kind, &c.Policy.Hour, &c.Policy.Minute, &c.Policy.Timezone, &c.Policy.EveryHours)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleConfig{}, false, nil
	}
	if err != nil {
		return ScheduleConfig{}, false, err
	}
	c.Policy.Kind = PolicyKind(kind)
	return c, true, nil
}

func (s *postgresStore) Tenants(ctx context.Context) ([]TenantID, error) {
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

func (s *postgresStore) RemoveTenant(ctx context.Context, tenant TenantID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE tenant = $1`, string(tenant)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE tenant = $1`, string(tenant))
	return err
}

func (s *postgresStore) LastFired(ctx context.Context, tenant TenantID) (string, error) {
	var w string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_window FROM tenants WHERE tenant = $1`, string(tenant)).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return w, err
}

func (s *postgresStore) MarkFired(ctx context.Context, tenant TenantID, window string, at time.Time) error {
	if err := s.ensureTenant(ctx, tenant); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_window = $1, fired_at = $2 WHERE tenant = $3`,
		window, at, string(tenant))
	return err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, tenant, action, detail, ok, err) VALUES($1,$2,$3,$4,$5,$6)`,
		e.At, string(e.Tenant), e.Action, nullStr(e.Detail), e.OK, nullStr(e.Error))
	return err
}
