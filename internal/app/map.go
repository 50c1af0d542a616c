package app

import (
	"fmt"
	"strings"
	"time"

	"childebot/internal/config"
	"childebot/internal/dispatch"
	"childebot/internal/metrics"
	"childebot/internal/router"
	"childebot/internal/store"
	telegram "childebot/internal/transport/telegram"
	logx "childebot/pkg/logx"
)

// defaultPrefix matches the classic question-of-the-day banner.
const defaultPrefix = "**Question of the Day:**"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (dispatch.Config, error) {
	tick, err := config.ParseDurationOrDefault("engine.tick_every", cfg.Engine.TickEvery, time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	deliver, err := config.ParseDurationOrDefault("engine.deliver_timeout", cfg.Engine.DeliverTimeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	prefix := cfg.Engine.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return dispatch.Config{
		Enabled:        cfg.Engine.Enabled,
		TickEvery:      tick,
		DeliverTimeout: deliver,
		RatePerSec:     cfg.Engine.RatePerSec,
		Prefix:         prefix,
		Timezone:       cfg.Engine.Timezone,
	}, nil
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{AdminUserIDs: cfg.Telegram.AdminUserIDs}
}

func mapMetricsConfig(cfg *config.Config) metrics.Config {
	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	return metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: addr}
}

// validate rejects configs the services could not run with. Used both at
// startup and by the hot-reload watcher.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if tz := cfg.Engine.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: %w", err)
		}
	}
	return nil
}
