package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"childebot/internal/schedule"
	"childebot/internal/store"
	logx "childebot/pkg/logx"
)

// Tick evaluates every configured tenant once against now. It is the unit of
// work the cron loop invokes each minute, and what tests drive directly.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	if !s.Enabled() {
		return
	}

	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		s.log.Error("tick: listing tenants", logx.Err(err))
		return
	}
	s.publish(EventTick, DeliveryEvent{})

	for _, t := range tenants {
		if ctx.Err() != nil {
			return
		}
		s.tickTenant(ctx, t, now)
	}
}

// tickTenant checks one tenant's policy and fires its window when due.
// Errors never escape: one tenant's failure must not affect its neighbors.
func (s *Service) tickTenant(ctx context.Context, tenant store.TenantID, now time.Time) {
	lock := s.tenantLock(tenant)
	lock.Lock()
	defer lock.Unlock()

	log := s.log.With(logx.String("tenant", string(tenant)))

	cfg, ok, err := s.store.GetConfig(ctx, tenant)
	if err != nil {
		log.Error("tick: reading config", logx.Err(err))
		return
	}
	if !ok || !cfg.Enabled || cfg.Destination == "" {
		return
	}
	policy := s.resolvePolicy(cfg.Policy)
	if err := schedule.Validate(policy); err != nil {
		// Unconfigured or broken policy; nothing to fire until it's set.
		log.Debug("tick: policy not runnable", logx.Err(err))
		return
	}

	last, err := s.store.LastFired(ctx, tenant)
	if err != nil {
		log.Error("tick: reading fired marker", logx.Err(err))
		return
	}
	due, window, err := schedule.Due(policy, now, last)
	if err != nil {
		log.Error("tick: evaluating policy", logx.Err(err))
		return
	}
	if !due {
		return
	}

	// The window is marked fired no matter how delivery goes. A failed send
	// keeps the item queued and retries on the NEXT window, never this one.
	if err := s.fireWindow(ctx, tenant, cfg, window, log); err != nil {
		log.Warn("delivery window failed", logx.String("window", window), logx.Err(err))
	}
	if err := s.store.MarkFired(ctx, tenant, window, now); err != nil {
		log.Error("tick: persisting fired marker", logx.String("window", window), logx.Err(err))
	}
}

// fireWindow delivers the head item (or fallback text) for one due window.
func (s *Service) fireWindow(ctx context.Context, tenant store.TenantID, cfg store.ScheduleConfig, window string, log logx.Logger) error {
	it, ok, err := s.store.PeekFirst(ctx, tenant)
	if err != nil {
		return fmt.Errorf("peeking queue: %w", err)
	}

	if !ok {
		if cfg.FallbackText == "" {
			log.Info("queue empty, nothing delivered", logx.String("window", window))
			s.publish(EventEmptyQueue, DeliveryEvent{Tenant: tenant, Window: window})
			s.audit(ctx, tenant, "deliver", "queue empty", true, nil)
			return nil
		}
		// Exhausted queue: deliver the standing fallback message instead.
		text := s.compose(cfg.TagText, cfg.FallbackText, false)
		if err := s.deliver(ctx, cfg.Destination, text); err != nil {
			s.publish(EventDeliveryFailed, DeliveryEvent{Tenant: tenant, Window: window, Err: err.Error()})
			s.audit(ctx, tenant, "deliver_fallback", "", false, err)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		log.Info("fallback delivered", logx.String("window", window))
		s.publish(EventFallbackApplied, DeliveryEvent{Tenant: tenant, Window: window})
		s.audit(ctx, tenant, "deliver_fallback", "", true, nil)
		return nil
	}

	text := s.compose(cfg.TagText, it.Text, true)
	if err := s.deliver(ctx, cfg.Destination, text); err != nil {
		s.publish(EventDeliveryFailed, DeliveryEvent{Tenant: tenant, Window: window, Err: err.Error()})
		s.audit(ctx, tenant, "deliver", it.ID, false, err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	// Remove only after a confirmed send. A crash between the two replays the
	// same item next window (at-least-once); RemoveItem by text stays a no-op
	// if the item is already gone.
	if err := s.store.RemoveItem(ctx, tenant, it.Text); err != nil {
		log.Error("removing delivered item", logx.String("item", it.ID), logx.Err(err))
	}
	log.Info("item delivered", logx.String("window", window), logx.String("item", it.ID))
	s.publish(EventDelivered, DeliveryEvent{Tenant: tenant, Window: window})
	s.audit(ctx, tenant, "deliver", it.ID, true, nil)
	return nil
}

// deliver sends one message through the gateway under the configured rate
// limit and per-send deadline.
func (s *Service) deliver(ctx context.Context, destination, text string) error {
	s.mu.Lock()
	limiter := s.limiter
	timeout := s.cfg.DeliverTimeout
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.gateway.Deliver(sendCtx, destination, text)
}

// compose joins tag, prefix and payload, skipping empty parts. The prefix is
// only applied to queue items, not to fallback text.
func (s *Service) compose(tag, payload string, withPrefix bool) string {
	s.mu.Lock()
	prefix := s.cfg.Prefix
	s.mu.Unlock()

	parts := make([]string, 0, 3)
	if tag != "" {
		parts = append(parts, tag)
	}
	if withPrefix && prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, payload)
	return strings.Join(parts, " ")
}

// resolvePolicy fills in the engine default timezone for daily policies
// that did not pin one.
func (s *Service) resolvePolicy(p store.TriggerPolicy) store.TriggerPolicy {
	if p.Kind == store.PolicyDaily && p.Timezone == "" {
		s.mu.Lock()
		p.Timezone = s.cfg.Timezone
		s.mu.Unlock()
	}
	return p
}

// audit records an action outcome. Best effort: auditing must never break
// the action itself.
func (s *Service) audit(ctx context.Context, tenant store.TenantID, action, detail string, ok bool, cause error) {
	e := store.AuditEntry{
		At:     s.clock.Now(),
		Tenant: tenant,
		Action: action,
		Detail: detail,
		OK:     ok,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
