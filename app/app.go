package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/searchktools/crane/config"
	"github.com/searchktools/crane/core"
	"github.com/searchktools/crane/core/observability"
)

// App wires configuration, logging and metrics around a crane engine
type App struct {
	cfg      *config.Config
	engine   *core.Engine
	log      *zap.Logger
	registry *prometheus.Registry
	signals  chan os.Signal
}

// New binds an engine from cfg. When metrics are enabled the collectors are
// registered on a private registry and served on cfg.Metrics.Path.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		signals: make(chan os.Signal, 1),
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(
			observability.WithRegistry(a.registry),
			observability.WithNamespace(cfg.Metrics.Namespace),
		)
	}

	engine, err := core.Bind(cfg.EngineConfig(log, metrics))
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	a.engine = engine

	if a.registry != nil {
		engine.Route(cfg.Metrics.Path, observability.Handler(a.registry))
	}

	return a, nil
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run serves until SIGINT or SIGTERM, then closes the engine
func (a *App) Run() error {
	signal.Notify(a.signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.signals)

	done := make(chan struct{})
	go func() {
		a.engine.Start()
		close(done)
	}()

	select {
	case sig := <-a.signals:
		a.log.Info("signal received, shutting down", zap.Stringer("signal", sig))
	case <-done:
		return nil
	}

	if err := a.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	<-done
	return nil
}
