package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"childebot/internal/dispatch"
	"childebot/internal/eventbus"
)

// Collector turns dispatch bus events into prometheus series.
type Collector struct {
	reg *prometheus.Registry

	ticks      prometheus.Counter
	deliveries *prometheus.CounterVec

	unsub func()
	done  chan struct{}
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "childebot",
			Name:      "ticks_total",
			Help:      "Dispatcher tick passes.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "childebot",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by tenant and outcome.",
		}, []string{"tenant", "result"}),
	}
	c.reg.MustRegister(c.ticks, c.deliveries)
	return c
}

// Registry exposes the backing registry for the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Listen subscribes to the bus and counts events until Close.
func (c *Collector) Listen(bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	c.unsub = unsub
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for e := range ch {
			if e.Type == dispatch.EventTick {
				c.ticks.Inc()
				continue
			}
			d, ok := e.Data.(dispatch.DeliveryEvent)
			if !ok {
				continue
			}
			tenant := string(d.Tenant)
			switch e.Type {
			case dispatch.EventDelivered:
				c.deliveries.WithLabelValues(tenant, "ok").Inc()
			case dispatch.EventDeliveryFailed:
				c.deliveries.WithLabelValues(tenant, "error").Inc()
			case dispatch.EventEmptyQueue:
				c.deliveries.WithLabelValues(tenant, "empty").Inc()
			case dispatch.EventFallbackApplied:
				c.deliveries.WithLabelValues(tenant, "fallback").Inc()
			}
		}
	}()
}

func (c *Collector) Close() {
	if c.unsub != nil {
		c.unsub()
	}
	if c.done != nil {
		<-c.done
	}
}
