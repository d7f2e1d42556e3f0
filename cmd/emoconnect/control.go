package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/emoconnect/internal/config"
	"github.com/loykin/emoconnect/pkg/client"
)

// newClient targets --api-url, or the configured listen address.
func newClient(global *GlobalFlags, flags *ControlFlags) (*client.Client, error) {
	base := flags.APIUrl
	timeout := client.DefaultConfig().Timeout
	if base == "" || global.ConfigPath != "" {
		cfg, err := config.Load(global.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		if base == "" {
			base = "http://" + cfg.Server.Listen + cfg.Server.BasePath
		}
		if t := cfg.Probe.StartupTimeout + 15*time.Second; t > timeout {
			timeout = t
		}
	}
	return client.New(client.Config{BaseURL: base, Timeout: timeout}), nil
}

func addControlFlags(cmd *cobra.Command, flags *ControlFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "url", "", "daemon URL (default from [server] listen)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createStartCommand(global *GlobalFlags, flags *ControlFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sampler, wait for it, then start the companion",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(global, flags)
			if err != nil {
				return err
			}
			res, err := c.Start(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	addControlFlags(cmd, flags)
	return cmd
}

func createStopCommand(global *GlobalFlags, flags *ControlFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the companion, then the sampler",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(global, flags)
			if err != nil {
				return err
			}
			res, err := c.Stop(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	addControlFlags(cmd, flags)
	return cmd
}

func createStatusCommand(global *GlobalFlags, flags *ControlFlags) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pair status",
		Long: `Show whether the sampler and companion are running and whether the sampler
answers on its health URL.

Examples:
  emoconnect status
  emoconnect status --detailed          # per-service uptime and resource usage
  emoconnect status --url=http://host:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(global, flags)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), c, detailed, cmd.OutOrStdout())
		},
	}
	addControlFlags(cmd, flags)
	cmd.Flags().BoolVar(&detailed, "detailed", false, "show per-service details")
	return cmd
}

func runStatus(ctx context.Context, c *client.Client, detailed bool, w io.Writer) error {
	if !c.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable; is `emoconnect serve` running?")
	}
	if detailed {
		rows, err := c.Services(ctx, "")
		if err != nil {
			return err
		}
		return printJSON(w, rows)
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(w, st)
}
