package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/metrics"
)

const defaultWatchEvery = time.Minute

// NewWatchCommand creates the watch command
func NewWatchCommand(cfg *config.Config) *cobra.Command {
	var (
		every       time.Duration
		metricsAddr string
		noMetrics   bool
	)

	cmd := &cobra.Command{
		Use:   "watch [spec...]",
		Short: "Rotate specs periodically and serve metrics",
		Long: `Run a rotation pass for each spec every --every until interrupted.

Passes within a spec's interval are no-ops unless a resource drifted from its
declaration. Prometheus metrics are served on /metrics and a liveness probe
on /health.`,
		Example: `  # Check every five minutes
  credrotate watch --every 5m

  # Serve metrics on a custom address
  credrotate watch --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 {
				return fmt.Errorf("--every must be positive, got %s", every)
			}

			var m *metrics.Metrics
			if !noMetrics {
				m = metrics.New()
			}
			s, err := openSession(cfg, m)
			if err != nil {
				return err
			}
			names, err := s.specNames(args)
			if err != nil {
				return err
			}

			if !noMetrics {
				addr := metricsAddr
				if addr == "" {
					addr = cfg.Definition.ListenAddr()
				}
				server := metrics.NewServer(addr, cfg.Logger)
				if err := server.Start(); err != nil {
					return err
				}
				cfg.Logger.Info("Serving metrics on http://%s/metrics", server.Addr())
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Stop(ctx); err != nil {
						cfg.Logger.Warn("Failed to stop metrics server: %v", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watcher{
				session: s,
				specs:   names,
				every:   every,
				clock:   clock.WallClock,
				out:     cmd.OutOrStdout(),
			}
			return w.run(ctx)
		},
	}

	cmd.Flags().DurationVar(&every, "every", defaultWatchEvery, "Time between passes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (default: metrics_addr from config)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Do not serve metrics")

	return cmd
}

// watcher runs a pass over its specs, then waits every before the next one.
type watcher struct {
	*session
	specs []string
	every time.Duration
	clock clock.Clock
	out   io.Writer
}

// run returns nil once ctx is cancelled. Failed passes are logged and retried
// on the next tick.
func (w *watcher) run(ctx context.Context) error {
	for {
		if err := w.rotateAll(ctx, w.out, w.specs); err != nil {
			w.cfg.Logger.Warn("Pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.every):
		}
	}
}
