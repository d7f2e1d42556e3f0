package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/emoconnect/internal/companion"
	"github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/internal/decision"
	"github.com/loykin/emoconnect/internal/furhat"
	"github.com/loykin/emoconnect/internal/history/factory"
	"github.com/loykin/emoconnect/internal/oracle"
	"github.com/loykin/emoconnect/internal/sampler"
)

func createSamplerCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sampler",
		Short: "Run the emotion sampler (producer)",
		Long: `Capture frames, classify the face and serve the recent window on
GET /emotion. The daemon starts this as its producer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := setup(global, "sampler")
			if err != nil {
				return err
			}
			defer closeLog()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSampler(ctx, cfg, log)
		},
	}
}

func runSampler(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	src, err := sampler.NewSource(cfg.Sampler)
	if err != nil {
		return fmt.Errorf("frame source: %w", err)
	}
	defer func() { _ = src.Close() }()

	cls := sampler.NewHTTPClassifier(cfg.Sampler.ClassifierURL, cfg.Sampler.ClassifierTimeout)
	s := sampler.New(cfg.Sampler, src, cls, sampler.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error { return sampler.Serve(gctx, cfg.Sampler.Listen, s) })
	return g.Wait()
}

func createCompanionCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "companion",
		Short: "Run the conversational companion (consumer)",
		Long: `Talk to the user through the Furhat Remote API, reading the emotion window
from the sampler. The daemon starts this after the sampler is ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closeLog, err := setup(global, "companion")
			if err != nil {
				return err
			}
			defer closeLog()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCompanion(ctx, cfg, log)
		},
	}
}

func runCompanion(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	sinks, err := factory.NewFanout(cfg.History.Sinks)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() { _ = sinks.Close() }()

	robot := furhat.New(cfg.Companion.FurhatURL,
		furhat.WithLanguage(cfg.Companion.Language),
		furhat.WithLogger(log),
	)

	// Without a key the resolver falls back to the baseline and offers are
	// spoken verbatim.
	var (
		infer decision.Oracle
		opts  = []companion.Option{companion.WithLogger(log)}
	)
	if o, err := newOracle(cfg.Oracle, log); err != nil {
		log.Warn("oracle disabled", "error", err)
	} else {
		infer = o
		opts = append(opts, companion.WithParaphraser(o))
	}
	if len(sinks) > 0 {
		opts = append(opts, companion.WithHistory(sinks))
	}

	resolver := decision.NewResolver(decision.DefaultPolicy, infer, log)
	bot := companion.NewBot(cfg.Companion, robot, companion.NewHTTPWindowSource(cfg.Companion.SamplerURL), resolver, opts...)
	return bot.Run(ctx)
}

func newOracle(cfg oracle.Config, log *slog.Logger) (*oracle.Oracle, error) {
	if cfg.Provider != "" && cfg.Provider != oracle.ProviderGemini {
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	gen, err := oracle.NewGemini(cfg, log)
	if err != nil {
		return nil, err
	}
	return oracle.New(gen, log), nil
}
