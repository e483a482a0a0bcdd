package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/config"
	transport "exam-prep-sync/internal/transport/http"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand that runs the device process:
// sync worker plus the local UI bridge.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync worker and the local pod bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, newLogger(cfg)); err != nil {
			return err
		}
	}

	rt, err := openRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	finalPort := resolvePort(portFlag, cfg)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	worker := app.NewSyncWorker(rt.attempts, config.Duration(cfg.Sync.Interval, 30*time.Second), logger)
	worker.Start(workerCtx)
	defer worker.Stop()

	podHandler := transport.NewPodHandler(rt.pods, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/pod", podHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting device bridge", "port", finalPort, "deviceId", rt.identity.DeviceID())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// resolvePort prefers --port (or PORT), then server.port, then 8080.
func resolvePort(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.Server.Port != "" {
		return cfg.Server.Port
	}
	return "8080"
}
