package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/polishcitizenship/portal-core/internal/api"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

var (
	servePort           int
	serveSweepInterval  time.Duration
	serveReplayInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal HTTP API",
	Long: `Serves the questionnaire, assessments, case lifecycle and exports over HTTP.

While running, the server also sweeps unpaid milestones past their due date
and replays dead-lettered case events to the notification webhook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewServer(env.Intake, env.Cases, env.Exports, api.WithAllowedOrigins(cfg.Server.AllowedOrigins)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if serveSweepInterval > 0 {
			g.Go(func() error {
				every(gctx, serveSweepInterval, func(ctx context.Context) {
					res, err := env.Cases.SweepOverdue(ctx, time.Now().UTC())
					if err != nil {
						zap.L().Warn("overdue sweep failed", zap.Error(err))
						return
					}
					if res.MilestonesOverdue > 0 {
						zap.L().Info("overdue sweep complete",
							zap.Int("cases_scanned", res.CasesScanned),
							zap.Int("milestones_overdue", res.MilestonesOverdue),
						)
					}
				})
				return nil
			})
		}

		if serveReplayInterval > 0 && env.Notifier.Enabled() {
			g.Go(func() error {
				every(gctx, serveReplayInterval, func(ctx context.Context) {
					if _, err := env.Notifier.Replay(ctx, resilience.DLQFilter{}); err != nil {
						zap.L().Warn("dead-letter replay failed", zap.Error(err))
					}
				})
				return nil
			})
		}

		return g.Wait()
	},
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveSweepInterval, "sweep-interval", time.Hour, "how often to mark overdue milestones (0 disables)")
	serveCmd.Flags().DurationVar(&serveReplayInterval, "replay-interval", 5*time.Minute, "how often to replay dead-lettered events (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
