package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumgate/quorumgate/internal/coordinator"
	"github.com/quorumgate/quorumgate/internal/logging"
	"github.com/quorumgate/quorumgate/internal/server"
)

var (
	flagServeAddr    string
	flagServeLogFile bool
)

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&flagServeLogFile, "log-file", false, "log to ~/.quorumgate/server.log instead of stderr")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP application layer",
	Long: `Serve the approval engine's HTTP API: pending listings,
request mutations, committed policy lookups, and the change log.

	Examples:
	  quorumgate serve
	  quorumgate serve --addr 0.0.0.0:8441`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagServeAddr != "" {
			cfg.Server.ListenAddr = flagServeAddr
		}

		logger := logging.InitDefault()
		if flagServeLogFile {
			if logger, err = logging.InitServer(); err != nil {
				return fmt.Errorf("opening server log: %w", err)
			}
		}

		l, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}
		coord := coordinator.New(l, logger)
		srv := server.New(coord, l, gw, logger, server.Options{
			AuthRequired: cfg.Server.AuthRequired,
			AuthSecret:   cfg.Server.AuthSecret,
			LogLimit:     cfg.General.LogLimit,
		})

		httpSrv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", cfg.Server.ListenAddr)
			errCh <- httpSrv.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(ctx)
		}
	},
}
