// Command localslackirc bridges a single Slack workspace to a single-user
// IRC server: one TCP client at a time, one Slack session per connection.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/localslackirc/bridge/internal/config"
	"github.com/localslackirc/bridge/internal/diag"
	"github.com/localslackirc/bridge/internal/health"
	"github.com/localslackirc/bridge/internal/metrics"
	"github.com/localslackirc/bridge/internal/store"
	"github.com/localslackirc/bridge/internal/supervisor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("ip", cfg.IP).
		Int("port", cfg.Port).
		Bool("diag_enabled", cfg.DiagEnabled()).
		Bool("audit_enabled", cfg.AuditEnabled()).
		Msg("starting localslackirc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewChecker(logger)
	m := metrics.New()
	sup := supervisor.New(cfg, logger)
	sup.SetMetrics(m)

	checker.Register("irc_listener", func(ctx context.Context) health.Status {
		return health.StatusOK
	})
	checker.Register("slack_session", func(ctx context.Context) health.Status {
		recent := sup.SessionLog().Recent(1)
		if len(recent) == 0 || recent[0].Kind == "session_start" {
			return health.StatusOK
		}
		return health.StatusDegraded
	})

	if cfg.AuditEnabled() {
		relay, err := store.New(cfg.AuditDBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open relay audit log")
		}
		defer relay.Close()
		sup.SetRelayLog(relay)

		checker.Register("sqlite", func(ctx context.Context) health.Status {
			if _, err := relay.DBSizeBytes(); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})

		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := relay.RunRetention(ctx, 30*24*time.Hour); err != nil {
						logger.Warn().Err(err).Msg("relay log retention error")
					}
				}
			}
		}()
	}

	if cfg.DiagEnabled() {
		diagServer := diag.New(diag.Config{
			ListenAddr: cfg.DiagListenAddr,
			JWTSecret:  cfg.DiagJWTSecret,
		}, checker, m, sup.SessionLog(), logger)

		go func() {
			if err := diagServer.Serve(); err != nil {
				logger.Warn().Err(err).Msg("diagnostic server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = diagServer.Shutdown()
		}()
	}

	if err := sup.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("supervisor exited with error")
	}

	logger.Info().Msg("localslackirc shut down cleanly")
}
