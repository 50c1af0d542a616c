package dispatch

import (
	"context"
	"fmt"
	"strings"

	"childebot/internal/schedule"
	"childebot/internal/store"
	logx "childebot/pkg/logx"
)

// PageSize is how many queue items a single list page holds.
const PageSize = 25

// AddItem validates and appends one item to the tenant queue.
func (s *Service) AddItem(ctx context.Context, tenant store.TenantID, text string) (store.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Item{}, validationErr("text", "must not be empty")
	}
	it := store.NewItem(text)
	if err := s.store.AddItem(ctx, tenant, it); err != nil {
		s.audit(ctx, tenant, "add_item", it.ID, false, err)
		return store.Item{}, fmt.Errorf("storing item: %w", err)
	}
	s.audit(ctx, tenant, "add_item", it.ID, true, nil)
	return it, nil
}

// RemoveItem removes the first queued item matching text. Missing text is
// not an error.
func (s *Service) RemoveItem(ctx context.Context, tenant store.TenantID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return validationErr("text", "must not be empty")
	}
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.RemoveItem(ctx, tenant, text); err != nil {
		s.audit(ctx, tenant, "remove_item", "", false, err)
		return err
	}
	s.audit(ctx, tenant, "remove_item", "", true, nil)
	return nil
}

// ClearQueue drops every queued item for the tenant.
func (s *Service) ClearQueue(ctx context.Context, tenant store.TenantID) error {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.ClearItems(ctx, tenant); err != nil {
		s.audit(ctx, tenant, "clear_queue", "", false, err)
		return err
	}
	s.audit(ctx, tenant, "clear_queue", "", true, nil)
	return nil
}

// Page is one slice of the tenant queue in FIFO order.
type Page struct {
	Items []store.Item
	Num   int // 1-based page number
	Total int // total pages; 1 even when the queue is empty
	Count int // total queued items across all pages
}

// ListPage returns page num (1-based) of the tenant queue, PageSize items per
// page. Out-of-range pages clamp to the nearest valid page.
func (s *Service) ListPage(ctx context.Context, tenant store.TenantID, num int) (Page, error) {
	items, err := s.store.ListItems(ctx, tenant)
	if err != nil {
		return Page{}, err
	}
	total := (len(items) + PageSize - 1) / PageSize
	if total == 0 {
		total = 1
	}
	if num < 1 {
		num = 1
	}
	if num > total {
		num = total
	}
	lo := (num - 1) * PageSize
	hi := lo + PageSize
	if hi > len(items) {
		hi = len(items)
	}
	return Page{Items: items[lo:hi], Num: num, Total: total, Count: len(items)}, nil
}

// SetDestination points the tenant at a delivery target.
func (s *Service) SetDestination(ctx context.Context, tenant store.TenantID, destination string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return validationErr("destination", "must not be empty")
	}
	if err := s.store.SetDestination(ctx, tenant, destination); err != nil {
		s.audit(ctx, tenant, "set_destination", destination, false, err)
		return err
	}
	s.audit(ctx, tenant, "set_destination", destination, true, nil)
	return nil
}

// SetTagText sets the mention/role text prepended to every delivery.
// Empty clears it.
func (s *Service) SetTagText(ctx context.Context, tenant store.TenantID, tag string) error {
	tag = strings.TrimSpace(tag)
	if err := s.store.SetTagText(ctx, tenant, tag); err != nil {
		s.audit(ctx, tenant, "set_tag", tag, false, err)
		return err
	}
	s.audit(ctx, tenant, "set_tag", tag, true, nil)
	return nil
}

// SetFallbackText sets the message sent when a window fires on an empty
// queue. Empty clears it (empty windows then deliver nothing).
func (s *Service) SetFallbackText(ctx context.Context, tenant store.TenantID, text string) error {
	text = strings.TrimSpace(text)
	if err := s.store.SetFallbackText(ctx, tenant, text); err != nil {
		s.audit(ctx, tenant, "set_fallback", "", false, err)
		return err
	}
	s.audit(ctx, tenant, "set_fallback", "", true, nil)
	return nil
}

// SetEnabled pauses or resumes the tenant schedule. Queue and config are kept.
func (s *Service) SetEnabled(ctx context.Context, tenant store.TenantID, enabled bool) error {
	if err := s.store.SetEnabled(ctx, tenant, enabled); err != nil {
		s.audit(ctx, tenant, "set_enabled", fmt.Sprint(enabled), false, err)
		return err
	}
	s.audit(ctx, tenant, "set_enabled", fmt.Sprint(enabled), true, nil)
	return nil
}

// SetDaily switches the tenant to a fire-once-a-day policy.
func (s *Service) SetDaily(ctx context.Context, tenant store.TenantID, hour, minute int, tz string) error {
	p, err := schedule.Daily(hour, minute, tz)
	if err != nil {
		return validationErr("schedule", "%v", err)
	}
	return s.setPolicy(ctx, tenant, p)
}

// SetEvery switches the tenant to a fire-every-n-hours policy.
func (s *Service) SetEvery(ctx context.Context, tenant store.TenantID, hours int) error {
	p, err := schedule.EveryNHours(hours)
	if err != nil {
		return validationErr("schedule", "%v", err)
	}
	return s.setPolicy(ctx, tenant, p)
}

func (s *Service) setPolicy(ctx context.Context, tenant store.TenantID, p store.TriggerPolicy) error {
	if err := s.store.SetPolicy(ctx, tenant, p); err != nil {
		s.audit(ctx, tenant, "set_policy", schedule.Describe(p), false, err)
		return err
	}
	s.audit(ctx, tenant, "set_policy", schedule.Describe(p), true, nil)
	return nil
}

// RemoveTenant drops the tenant's config, queue and fired marker entirely.
func (s *Service) RemoveTenant(ctx context.Context, tenant store.TenantID) error {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.RemoveTenant(ctx, tenant); err != nil {
		s.audit(ctx, tenant, "remove_tenant", "", false, err)
		return err
	}
	s.audit(ctx, tenant, "remove_tenant", "", true, nil)
	return nil
}

// SendNow delivers the head item immediately, bypassing the due check but
// not the enabled flag. The current window (if the policy yields one) is
// marked fired so the scheduled run does not double-send right after.
func (s *Service) SendNow(ctx context.Context, tenant store.TenantID) error {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	cfg, ok, err := s.store.GetConfig(ctx, tenant)
	if err != nil {
		return err
	}
	if !ok || cfg.Destination == "" {
		return ErrNoDestination
	}
	if !cfg.Enabled {
		return ErrTenantDisabled
	}

	it, found, err := s.store.PeekFirst(ctx, tenant)
	if err != nil {
		return err
	}
	if !found {
		if cfg.FallbackText == "" {
			return ErrEmptyQueue
		}
		text := s.compose(cfg.TagText, cfg.FallbackText, false)
		if err := s.deliver(ctx, cfg.Destination, text); err != nil {
			s.audit(ctx, tenant, "send_now", "fallback", false, err)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		s.publish(EventFallbackApplied, DeliveryEvent{Tenant: tenant, Manual: true})
		s.audit(ctx, tenant, "send_now", "fallback", true, nil)
		s.markCurrentWindow(ctx, tenant, cfg)
		return nil
	}

	text := s.compose(cfg.TagText, it.Text, true)
	if err := s.deliver(ctx, cfg.Destination, text); err != nil {
		s.publish(EventDeliveryFailed, DeliveryEvent{Tenant: tenant, Manual: true, Err: err.Error()})
		s.audit(ctx, tenant, "send_now", it.ID, false, err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if err := s.store.RemoveItem(ctx, tenant, it.Text); err != nil {
		s.log.Error("removing delivered item",
			logx.String("tenant", string(tenant)), logx.String("item", it.ID), logx.Err(err))
	}
	s.publish(EventDelivered, DeliveryEvent{Tenant: tenant, Manual: true})
	s.audit(ctx, tenant, "send_now", it.ID, true, nil)
	s.markCurrentWindow(ctx, tenant, cfg)
	return nil
}

// markCurrentWindow records a manual send against the window it landed in,
// if the tenant has a runnable policy.
func (s *Service) markCurrentWindow(ctx context.Context, tenant store.TenantID, cfg store.ScheduleConfig) {
	policy := s.resolvePolicy(cfg.Policy)
	if schedule.Validate(policy) != nil {
		return
	}
	now := s.clock.Now()
	window, err := schedule.Window(policy, now)
	if err != nil {
		return
	}
	if err := s.store.MarkFired(ctx, tenant, window, now); err != nil {
		s.log.Error("persisting fired marker after manual send",
			logx.String("tenant", string(tenant)), logx.Err(err))
	}
}
