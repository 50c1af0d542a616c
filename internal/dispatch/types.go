package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"childebot/internal/eventbus"
	"childebot/internal/schedule"
	"childebot/internal/store"
	logx "childebot/pkg/logx"
)

// Config controls the dispatch engine.
type Config struct {
	Enabled        bool
	TickEvery      time.Duration // tick cadence; default 1m
	DeliverTimeout time.Duration // per-send deadline; default 10s
	RatePerSec     int           // outbound sends per second; default 5
	Prefix         string        // inserted between tag and item text
	Timezone       string        // default zone for policies without one
}

// Gateway sends one composed message to a destination. Implementations decide
// what a destination string means (chat ID, channel, webhook URL).
type Gateway interface {
	Deliver(ctx context.Context, destination string, text string) error
}

// Event types published on the bus.
const (
	EventTick            = "dispatch.tick"
	EventDelivered       = "dispatch.delivered"
	EventDeliveryFailed  = "dispatch.delivery_failed"
	EventEmptyQueue      = "dispatch.empty_queue"
	EventFallbackApplied = "dispatch.fallback"
)

// DeliveryEvent is the Data payload for delivery-related bus events.
type DeliveryEvent struct {
	Tenant store.TenantID
	Window string
	Manual bool
	Err    string
}

// Service owns the minute tick and all delivery work. One goroutine ticks;
// tenants are processed independently so one bad tenant cannot stall others.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	store   store.Store
	gateway Gateway
	clock   schedule.Clock
	bus     eventbus.Bus
	log     logx.Logger

	limiter *rate.Limiter

	// Per-tenant serialization: a tick and a concurrent command (sendNow,
	// remove) must not interleave within the same tenant.
	tmu     sync.Mutex
	tenants map[store.TenantID]*sync.Mutex

	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

// New builds the engine. Pass schedule.System() as clock outside of tests.
func New(cfg Config, st store.Store, gw Gateway, clock schedule.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if clock == nil {
		clock = schedule.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		store:   st,
		gateway: gw,
		clock:   clock,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		tenants: map[store.TenantID]*sync.Mutex{},
	}
}

func (c Config) withDefaults() Config {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Minute
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

// tenantLock returns the mutex guarding one tenant, creating it on first use.
func (s *Service) tenantLock(t store.TenantID) *sync.Mutex {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	m, ok := s.tenants[t]
	if !ok {
		m = &sync.Mutex{}
		s.tenants[t] = m
	}
	return m
}

func (s *Service) publish(typ string, data DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
