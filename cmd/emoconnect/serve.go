package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/internal/history/factory"
	"github.com/loykin/emoconnect/internal/manager"
	"github.com/loykin/emoconnect/internal/metrics"
	"github.com/loykin/emoconnect/internal/orchestrator"
	"github.com/loykin/emoconnect/internal/probe"
	"github.com/loykin/emoconnect/internal/server"
)

func createServeCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the control daemon",
		Long: `Start the control daemon. It supervises the sampler (producer) and the
companion (consumer) and serves the control panel.

On SIGINT or SIGTERM both children are stopped, consumer first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := setup(global, "daemon")
			if err != nil {
				return err
			}
			defer closeLog()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
}

// daemon is everything serve wires together.
type daemon struct {
	mgr       *manager.Manager
	orch      *orchestrator.Orchestrator
	collector *metrics.UsageCollector
	handler   http.Handler
	closeFn   func() error
}

func newDaemon(cfg *config.Config, log *slog.Logger) (*daemon, error) {
	sinks, err := factory.NewFanout(cfg.History.Sinks)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	opts := []manager.Option{
		manager.WithGracePeriod(cfg.Supervisor.GracePeriod),
		manager.WithKillWait(cfg.Supervisor.KillWait),
		manager.WithLogger(log),
	}
	if len(sinks) > 0 {
		opts = append(opts, manager.WithHistory(sinks))
	}
	mgr := manager.New(opts...)

	producer, consumer, err := cfg.ServiceSpecs()
	if err != nil {
		_ = sinks.Close()
		return nil, err
	}
	if err := mgr.Register(producer); err != nil {
		_ = sinks.Close()
		return nil, fmt.Errorf("register producer: %w", err)
	}
	if err := mgr.Register(consumer); err != nil {
		_ = sinks.Close()
		return nil, fmt.Errorf("register consumer: %w", err)
	}

	prober := probe.New(cfg.Probe.Config, probe.WithLogger(log))
	orch := orchestrator.New(mgr, prober, orchestrator.Config{
		Producer:       producer.Name,
		Consumer:       consumer.Name,
		HealthURL:      cfg.Producer.HealthURL,
		StartupTimeout: cfg.Probe.StartupTimeout,
		StatusTimeout:  cfg.Probe.StatusTimeout,
	}, log)
	collector := metrics.NewUsageCollector(cfg.Metrics.ProcessInterval, mgr.RunningPIDs, log)
	router := server.NewRouter(orch, cfg.Server.BasePath, server.WithInventory(mgr), server.WithUsage(collector))

	return &daemon{
		mgr:       mgr,
		orch:      orch,
		collector: collector,
		handler:   router.Handler(),
		closeFn:   sinks.Close,
	}, nil
}

// shutdown stops the pair in dependency order, then retires the manager.
func (d *daemon) shutdown(log *slog.Logger) error {
	res := d.orch.StopAll()
	log.Info("services stopped", "consumer", res.Consumer.Message, "producer", res.Producer.Message)
	return errors.Join(d.mgr.Shutdown(), d.closeFn())
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Probe.StartupTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.collector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("control server listening", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		msrv := newMetricsServer(cfg.Metrics.Listen)
		g.Go(func() error {
			log.Info("metrics listening", "listen", cfg.Metrics.Listen)
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return msrv.Close()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	return errors.Join(err, d.shutdown(log))
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
