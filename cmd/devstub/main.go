// Command devstub runs the local stand-in broker so the client can be
// exercised without the production server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/devstub"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

func main() {
	var (
		addr     string
		logLevel string
	)

	root := &cobra.Command{
		Use:          "devstub",
		Short:        "Local stand-in for the wirechat presence server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              addr,
				Handler:           devstub.New(logger).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			logger.Info().Str("addr", addr).Msg("devstub listening")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	root.Flags().StringVar(&addr, "addr", ":3000", "listen address")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
