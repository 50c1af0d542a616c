package app

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"

	"childebot/internal/config"
	"childebot/internal/dispatch"
	"childebot/internal/eventbus"
	"childebot/internal/metrics"
	"childebot/internal/router"
	"childebot/internal/schedule"
	"childebot/internal/store"
	telegram "childebot/internal/transport/telegram"
	logx "childebot/pkg/logx"
)

// App owns every service and their start/stop order.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	st      store.Store
	adapter *telegram.Adapter
	engine  *dispatch.Service
	router  *router.Router

	collector *metrics.Collector
	msrv      *metrics.Server

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", stCfg.Driver))

	bus := eventbus.New()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := dispatch.New(engCfg, st, telegram.NewGateway(adapter), schedule.System(), bus,
		log.With(logx.String("comp", "dispatch")))

	rt := router.New(mapRouterConfig(cfg), engine, adapter, log.With(logx.String("comp", "router")))

	collector := metrics.NewCollector()
	msrv := metrics.NewServer(mapMetricsConfig(cfg), collector, log.With(logx.String("comp", "metrics")))

	return &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		bus:       bus,
		st:        st,
		adapter:   adapter,
		engine:    engine,
		router:    rt,
		collector: collector,
		msrv:      msrv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.collector.Listen(a.bus)
	a.msrv.Start()

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.router.Start(ctx)
	if err := a.adapter.Start(ctx, a.router.Updates()); err != nil {
		return err
	}

	// Config hot reload.
	wctx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel
	updates := a.cfgm.Subscribe(1)
	go func() {
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.apply(cfg)
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// apply pushes a validated config into the running services. Storage driver
// and telegram token changes need a restart and are logged, not applied.
func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))
	if engCfg, err := mapEngineConfig(cfg); err == nil {
		a.engine.Apply(engCfg)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	_ = a.adapter.Stop(ctx)
	a.router.Stop(ctx)
	a.engine.Stop(ctx)
	a.msrv.Stop(ctx)
	a.collector.Close()

	if err := a.st.Close(); err != nil {
		a.log.Warn("closing store", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
