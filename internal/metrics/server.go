package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "childebot/pkg/logx"
)

// Config controls the optional metrics listener.
type Config struct {
	Enabled bool
	Addr    string // e.g. ":9090"
}

// Server exposes /metrics and /healthz on a side listener.
type Server struct {
	cfg Config
	log logx.Logger

	srv *http.Server
}

func NewServer(cfg Config, c *Collector, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":9090"
	}
	return &Server{
		cfg: cfg,
		log: log,
		srv: &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
}

func (s *Server) Start() {
	if !s.cfg.Enabled {
		return
	}
	go func() {
		s.log.Info("metrics listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
