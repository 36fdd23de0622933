package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratefence/ratefence/internal/observability"
	"github.com/ratefence/ratefence/internal/server"
	"github.com/ratefence/ratefence/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only diagnostics HTTP server",
	Long: `Serve exposes /health, /version and /ratelimit/stats. The stats
endpoint reads the shared record without the lock, so scraping it never
delays acquiring processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limiter, cfg, err := openLimiter()
		if err != nil {
			return err
		}

		observability.InitServerLogger(binaryName, cfg.Logging.Level)
		handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

		srv := server.New(cfg.Server.Host, cfg.Server.Port, limiter)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			observability.ServerLogger.Info("Received shutdown signal",
				zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
