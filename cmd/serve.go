package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = app.cfg.Server.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := app.buildRuntime(ctx)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           rt.server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger := arenalog.WithComponent("serve")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				rt.pool.Run(gctx)
				return nil
			})
			g.Go(func() error {
				logger.Info().Str("listen", listen).Msg("relay listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve http: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				logger.Info().Msg("shutting down")
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("http shutdown")
				}
				return rt.Close(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to server.listen)")
	return cmd
}
