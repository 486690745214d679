package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/app"
	"github.com/xelth-com/chatrelay/internal/buildinfo"
)

func serveCmd() *cobra.Command {
	var (
		port         string
		backend      string
		messagesFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("store") {
				cfg.Store.Backend = backend
			}
			if cmd.Flags().Changed("messages-file") {
				cfg.Store.MessagesFile = messagesFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&backend, "store", "", "store backend: file, postgres, sqlite or memory (overrides STORE_BACKEND)")
	cmd.Flags().StringVar(&messagesFile, "messages-file", "", "JSON log location for the file backend (overrides MESSAGES_FILE)")
	return cmd
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := app.NewWire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Error("database close error", zap.Error(err))
		}
	}()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go w.Hub.Run(hubCtx)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: w.Router.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay starting",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.Store.Backend),
			zap.Bool("key_provisioned", w.Provisioned),
			zap.String("version", buildinfo.Version()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Closing the hub first ends every WebSocket, which Shutdown does not track.
	stopHub()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}
