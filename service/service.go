package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/nvim-test-runner/nvim-test-runner/metrics"
	"github.com/nvim-test-runner/nvim-test-runner/reporting"
)

// Config selects which servers run next to the test runner
type Config struct {
	HealthzEnabled bool
	HealthzAddr    string
	Metrics        opmetrics.CLIConfig
}

// Service runs the optional healthz and metrics servers.
type Service struct {
	cfg     Config
	log     log.Logger
	Healthz *HealthzServer

	healthzServer *httputil.HTTPServer
	metricsServer *httputil.HTTPServer
}

func New(cfg Config, logger log.Logger, lastReport func() *reporting.RunReport) *Service {
	return &Service{
		cfg:     cfg,
		log:     logger,
		Healthz: NewHealthzServer(logger, lastReport),
	}
}

// Enabled reports whether any server is configured to run
func (s *Service) Enabled() bool {
	return s.cfg.HealthzEnabled || s.cfg.Metrics.Enabled
}

func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	if s.cfg.HealthzEnabled {
		srv, err := httputil.StartHTTPServer(s.cfg.HealthzAddr, s.Healthz.Handler())
		if err != nil {
			metrics.RecordErrorDetails("error starting healthz server", err)
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
		s.healthzServer = srv
		s.log.Info("Started healthz server", "endpoint", srv.Addr())
	}

	if s.cfg.Metrics.Enabled {
		registry := opmetrics.NewRegistry()
		registry.MustRegister(metrics.Collectors()...)

		s.log.Info("Starting metrics server", "addr", s.cfg.Metrics.ListenAddr, "port", s.cfg.Metrics.ListenPort)
		srv, err := opmetrics.StartServer(registry, s.cfg.Metrics.ListenAddr, s.cfg.Metrics.ListenPort)
		if err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			return errors.Join(fmt.Errorf("failed to start metrics server: %w", err), s.Shutdown(ctx))
		}
		s.metricsServer = srv
		s.log.Info("Started metrics server", "endpoint", srv.Addr())
	}

	s.log.Info("service started")
	return nil
}

// HealthzAddr returns the bound healthz address, or the empty string when it is not running.
func (s *Service) HealthzAddr() string {
	if s.healthzServer == nil {
		return ""
	}
	return s.healthzServer.Addr().String()
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.log.Info("service shutting down")

	var result error
	if s.healthzServer != nil {
		if err := s.healthzServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
		}
		s.healthzServer = nil
		s.log.Info("healthz stopped")
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.metricsServer = nil
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
	return result
}
