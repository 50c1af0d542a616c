package dispatch

import (
	"context"

	"childebot/internal/schedule"
	"childebot/internal/store"
)

// TenantStatus is a read-only view of one tenant for status commands.
type TenantStatus struct {
	Tenant      store.TenantID
	Configured  bool
	Destination string
	TagText     string
	Fallback    string
	Enabled     bool
	PolicyText  string
	QueueLen    int
	LastWindow  string
}

// Status summarizes one tenant's configuration and queue depth.
func (s *Service) Status(ctx context.Context, tenant store.TenantID) (TenantStatus, error) {
	st := TenantStatus{Tenant: tenant}

	cfg, ok, err := s.store.GetConfig(ctx, tenant)
	if err != nil {
		return st, err
	}
	if !ok {
		return st, nil
	}
	st.Configured = true
	st.Destination = cfg.Destination
	st.TagText = cfg.TagText
	st.Fallback = cfg.FallbackText
	st.Enabled = cfg.Enabled
	st.PolicyText = schedule.Describe(s.resolvePolicy(cfg.Policy))

	items, err := s.store.ListItems(ctx, tenant)
	if err != nil {
		return st, err
	}
	st.QueueLen = len(items)

	st.LastWindow, err = s.store.LastFired(ctx, tenant)
	if err != nil {
		return st, err
	}
	return st, nil
}

// Snapshot returns the status of every tenant with a destination configured.
func (s *Service) Snapshot(ctx context.Context) ([]TenantStatus, error) {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TenantStatus, 0, len(tenants))
	for _, t := range tenants {
		st, err := s.Status(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
