package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a volatile Store. It backs tests and dry runs; everything else
// goes through the same interface, so swapping drivers is a config change.
type Memory struct {
	mu      sync.Mutex
	tenants map[TenantID]*tenantState
	audits  []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{tenants: map[TenantID]*tenantState{}}
}

func (m *Memory) getOrCreate(tenant TenantID) *tenantState {
	st, ok := m.tenants[tenant]
	if !ok {
		st = newTenantState()
		m.tenants[tenant] = st
	}
	return st
}

func (m *Memory) AddItem(ctx context.Context, tenant TenantID, it Item) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.getOrCreate(tenant)
	st.Items = append(st.Items, it)
	return nil
}

func (m *Memory) PeekFirst(ctx context.Context, tenant TenantID) (Item, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenant]
	if !ok || len(st.Items) == 0 {
		return Item{}, false, nil
	}
	return st.Items[0], true, nil
}

func (m *Memory) RemoveItem(ctx context.Context, tenant TenantID, text string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenant]
	if !ok {
		return nil
	}
	st.Items, _ = removeFirst(st.Items, text)
	return nil
}

func (m *Memory) ListItems(ctx context.Context, tenant TenantID) ([]Item, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenant]
	if !ok {
		return nil, nil
	}
	out := make([]Item, len(st.Items))
	copy(out, st.Items)
	return out, nil
}

func (m *Memory) ClearItems(ctx context.Context, tenant TenantID) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tenants[tenant]; ok {
		st.Items = nil
	}
	return nil
}

func (m *Memory) SetDestination(ctx context.Context, tenant TenantID, destination string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(tenant).Config.Destination = destination
	return nil
}

func (m *Memory) SetTagText(ctx context.Context, tenant TenantID, tag string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(tenant).Config.TagText = tag
	return nil
}

func (m *Memory) SetFallbackText(ctx context.Context, tenant TenantID, text string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(tenant).Config.FallbackText = text
	return nil
}

func (m *Memory) SetEnabled(ctx context.Context, tenant TenantID, enabled bool) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(tenant).Config.Enabled = enabled
	return nil
}

func (m *Memory) SetPolicy(ctx context.Context, tenant TenantID, p TriggerPolicy) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(tenant).Config.Policy = p
	return nil
}

func (m *Memory) GetConfig(ctx context.Context, tenant TenantID) (ScheduleConfig, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenant]
	if !ok {
		return ScheduleConfig{}, false, nil
	}
	return st.Config, true, nil
}

func (m *Memory) Tenants(ctx context.Context) ([]TenantID, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TenantID, 0, len(m.tenants))
	for id, st := range m.tenants {
		if st.Config.Destination != "" {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) RemoveTenant(ctx context.Context, tenant TenantID) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenant)
	return nil
}

func (m *Memory) LastFired(ctx context.Context, tenant TenantID) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tenants[tenant]
	if !ok {
		return "", nil
	}
	return st.LastWindow, nil
}

func (m *Memory) MarkFired(ctx context.Context, tenant TenantID, window string, at time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.getOrCreate(tenant)
	st.LastWindow = window
	st.FiredAt = at
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

// Audits returns a snapshot of recorded audit entries (test helper).
func (m *Memory) Audits() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audits))
	copy(out, m.audits)
	return out
}

func (m *Memory) Close() error { return nil }
