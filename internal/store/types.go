package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantID identifies one community (a chat/guild). Opaque, stable.
type TenantID string

type PolicyKind string

const (
	// PolicyDaily fires once per calendar day at hour:minute in the policy zone.
	PolicyDaily PolicyKind = "daily"
	// PolicyEvery fires once per hour slot where hour % EveryHours == 0.
	PolicyEvery PolicyKind = "every"
)

type TriggerPolicy struct {
	Kind PolicyKind `json:"kind"`

	// Daily fields.
	Hour     int    `json:"hour,omitempty"`
	Minute   int    `json:"minute,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA zone; empty means engine default

	// Every fields.
	EveryHours int `json:"every_hours,omitempty"`
}

// ScheduleConfig is the per-tenant delivery configuration.
// A tenant without a record (or without a destination) is never delivered to.
type ScheduleConfig struct {
	Destination  string        `json:"destination"`
	TagText      string        `json:"tag_text,omitempty"`
	FallbackText string        `json:"fallback_text,omitempty"`
	Enabled      bool          `json:"enabled"`
	Policy       TriggerPolicy `json:"policy"`
}

// Item is one pending queue entry. Text is the payload; ID is for log/audit
// correlation only (removal is by text so replays stay idempotent).
type Item struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	AddedAt time.Time `json:"added_at"`
}

func NewItem(text string) Item {
	return Item{ID: uuid.NewString(), Text: text, AddedAt: time.Now().UTC()}
}

// AuditEntry records a command-surface mutation or a delivery outcome.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Tenant TenantID  `json:"tenant"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// Store is durable per-tenant state: schedule config, pending queue, and the
// last-fired window marker. Implementations must be safe for concurrent use
// and provide read-after-write consistency within the process.
type Store interface {
	// Queue operations. AddItem appends to the tail; RemoveItem removes the
	// first occurrence matching text scanning from the head and is a no-op
	// when absent (idempotent after a crash between deliver and remove).
	AddItem(ctx context.Context, tenant TenantID, it Item) error
	PeekFirst(ctx context.Context, tenant TenantID) (Item, bool, error)
	RemoveItem(ctx context.Context, tenant TenantID, text string) error
	ListItems(ctx context.Context, tenant TenantID) ([]Item, error)
	ClearItems(ctx context.Context, tenant TenantID) error

	// Config operations. Setters upsert the tenant record lazily; a freshly
	// created record starts enabled so "set channel, add questions" is enough.
	SetDestination(ctx context.Context, tenant TenantID, destination string) error
	SetTagText(ctx context.Context, tenant TenantID, tag string) error
	SetFallbackText(ctx context.Context, tenant TenantID, text string) error
	SetEnabled(ctx context.Context, tenant TenantID, enabled bool) error
	SetPolicy(ctx context.Context, tenant TenantID, p TriggerPolicy) error
	GetConfig(ctx context.Context, tenant TenantID) (ScheduleConfig, bool, error)

	// Tenants lists tenants that have a destination configured (one pass per tick).
	Tenants(ctx context.Context) ([]TenantID, error)
	RemoveTenant(ctx context.Context, tenant TenantID) error

	// Fired-window marker ("" when never fired). MarkFired must be durable so a
	// restart inside the same window does not re-fire.
	LastFired(ctx context.Context, tenant TenantID) (string, error)
	MarkFired(ctx context.Context, tenant TenantID, window string, at time.Time) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
