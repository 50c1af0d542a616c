package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"golang.org/x/time/rate"

	logx "childebot/pkg/logx"
)

// Apply swaps config at runtime (hot reload). The tick cadence only changes
// on the next Start; rate and compose settings take effect immediately.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the cron-driven tick loop. Idempotent while running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	loc := time.UTC
	if tz := s.cfg.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("engine timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickEvery), func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.Tick(runCtx, s.clock.Now())
	}); err != nil {
		cancel()
		return err
	}

	stopCh := make(chan struct{})
	stopDone := make(chan struct{})
	s.stopCh = stopCh
	s.stopDone = stopDone

	c.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-stopCh
		// Let in-flight deliveries finish (they carry their own timeout)
		// before tearing down the run context.
		<-c.Stop().Done()
		cancel()
		close(stopDone)
	}()

	s.log.Info("dispatch started",
		logx.Duration("tick_every", s.cfg.TickEvery),
		logx.Int("rate_per_sec", s.cfg.RatePerSec),
		logx.String("tz", loc.String()))
	return nil
}

// Stop halts the tick loop and waits for in-flight deliveries to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	stopDone := s.stopDone
	s.stopCh = nil
	s.stopDone = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	select {
	case <-stopDone:
	case <-ctx.Done():
		s.log.Warn("dispatch stop timed out", logx.Err(ctx.Err()))
	}
}
