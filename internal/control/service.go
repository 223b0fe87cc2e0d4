package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"golang.org/x/sync/errgroup"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector"
	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/core/config"
	"github.com/intelgate/intelgate/internal/core/domain"
	"github.com/intelgate/intelgate/internal/infra/secrets"
	"github.com/intelgate/intelgate/internal/metrics"
	"github.com/intelgate/intelgate/internal/server"
	"github.com/intelgate/intelgate/internal/source/rest"
)

// Service owns the configured sources and their supporting infrastructure:
// secret store, audit store, ops server, and background health checks.
type Service struct {
	cfg     *config.AppConfig
	sources map[domain.SourceID]connector.Connector
	order   []domain.SourceID
	store   credentials.SecretStore
	db      *sqlx.DB
	srv     *server.Server
	log     *slog.Logger
}

// NewService builds a Service with all dependencies initialized.
func NewService(cfg *config.AppConfig, log *slog.Logger) (*Service, error) {
	// 1. Secret store
	var store credentials.SecretStore
	if cfg.Secrets.URL != "" {
		rs, err := secrets.NewRedisStore(cfg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to init secret store: %w", err)
		}
		store = rs
		log.Info("Using Redis secret store")
	} else {
		store = secrets.NewEnvStore()
		log.Info("Using environment secret store")
	}

	// 2. Audit store
	var recorder audit.Recorder
	var db *sqlx.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = audit.OpenDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		recorder = audit.NewPostgresRecorder(db)
		log.Info("Using PostgreSQL audit store")
	} else {
		recorder = audit.NewMemoryRecorder()
		log.Info("Using in-memory audit store")
	}

	// 3. Sources
	sources := make(map[domain.SourceID]connector.Connector, len(cfg.Sources))
	order := make([]domain.SourceID, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		conn, caps, err := sc.Connector()
		if err != nil {
			return nil, err
		}
		src := rest.New(conn, caps, store, recorder, time.Duration(sc.RequestTimeout), log)
		sources[conn.SourceID] = src
		order = append(order, conn.SourceID)
		log.Info("Source configured",
			"source", conn.SourceID,
			"endpoint", conn.APIEndpoint,
			"capabilities", len(caps))
	}

	svc := &Service{
		cfg:     cfg,
		sources: sources,
		order:   order,
		store:   store,
		db:      db,
		log:     log,
	}
	svc.srv = server.NewServer(svc, cfg.Server.Port)
	return svc, nil
}

// Source returns the connector registered under id, if any.
func (s *Service) Source(id domain.SourceID) (connector.Connector, bool) {
	src, ok := s.sources[id]
	return src, ok
}

// Start runs the ops server, per-source health-check loops, and the
// metrics updater until ctx is cancelled or a component fails.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("Ops server listening", "port", s.cfg.Server.Port)
		if err := s.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Stop(shutdownCtx)
	})

	for _, id := range s.order {
		src := s.sources[id]
		g.Go(func() error {
			s.runHealthLoop(ctx, src)
			return nil
		})
	}

	g.Go(func() error {
		s.runMetricsUpdater(ctx)
		return nil
	})

	return g.Wait()
}

// Stop releases external resources. Call after Start has returned.
func (s *Service) Stop() {
	if closer, ok := s.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.log.Warn("Failed to close secret store", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
}

// SourceStatuses implements server.StatusReporter.
func (s *Service) SourceStatuses() []server.SourceStatus {
	out := make([]server.SourceStatus, 0, len(s.order))
	for _, id := range s.order {
		src := s.sources[id]
		h := src.Health()
		ls := src.LimiterStatus()
		out = append(out, server.SourceStatus{
			Source:       id,
			Capabilities: src.Capabilities(),
			Healthy:      h.Healthy,
			ErrorCount:   h.ErrorCount,
			LastCheck:    h.LastCheck,
			NextCheck:    h.NextCheck,
			Tokens:       ls.AvailableTokens,
			MinuteUsed:   ls.RequestsLastMinute,
			HourUsed:     ls.RequestsLastHour,
			DayUsed:      ls.RequestsLastDay,
		})
	}
	return out
}

func (s *Service) runHealthLoop(ctx context.Context, src connector.Connector) {
	// Probe once at startup so operators see real state immediately.
	src.CheckHealth(ctx)

	ticker := time.NewTicker(src.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := src.CheckHealth(ctx)
			if !healthy {
				s.log.Warn("Source health check failed",
					"source", src.SourceID(),
					"error_count", src.Health().ErrorCount)
			}
		}
	}
}

func (s *Service) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.order {
				src := s.sources[id]
				name := string(id)
				metrics.TokensAvailable.WithLabelValues(name).Set(src.LimiterStatus().AvailableTokens)
				if src.Health().Healthy {
					metrics.SourceHealthy.WithLabelValues(name).Set(1)
				} else {
					metrics.SourceHealthy.WithLabelValues(name).Set(0)
				}
			}
		}
	}
}
