package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/config"
	"github.com/line/centraldogma-sub005/internal/content"
	"github.com/line/centraldogma-sub005/internal/httpapi"
	"github.com/line/centraldogma-sub005/internal/logging"
	"github.com/line/centraldogma-sub005/internal/metadata"
	"github.com/line/centraldogma-sub005/internal/serverstatus"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/storage/sqlite"
	"github.com/line/centraldogma-sub005/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configuration repository server in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if cfg.ConfigFileUsed() != "" {
		log.WithField("file", cfg.ConfigFileUsed()).Info("loaded configuration")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	st, err := sqlite.Open(filepath.Join(cfg.DataDir, "dogma.db"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer st.Close()

	// The engine needs a broadcaster (the watch manager) and the watch
	// manager needs an engine to resolve heads, so a bootstrap engine
	// with no gate/broadcaster wires the manager before the real, fully
	// wired engine replaces it. Same two-step wiring watch_test.go uses.
	bootstrap := storage.New(st, nil, nil)
	wm := watch.New(bootstrap)
	status := serverstatus.New()
	status.GraceWindow = 5 * time.Second
	eng := storage.New(st, status, wm)
	status.RegisterShutdownHook(wm)

	stopWatch, err := config.WatchFile(cfg.ConfigFileUsed(), func(reloaded *config.Config) {
		log.WithField("read-only", reloaded.ReadOnly).Info("configuration reloaded")
		next := serverstatus.Writable
		if reloaded.ReadOnly {
			next = serverstatus.ReadOnly
		}
		if err := status.Transition(next, serverstatus.ScopeLocal); err != nil {
			log.WithError(err).Warn("config-triggered status transition failed")
		}
	}, func(err error) {
		log.WithError(err).Warn("config file watch error")
	})
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer stopWatch()

	md := metadata.New(eng)
	if err := md.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping metadata: %w", err)
	}

	svc := content.New(eng, wm)
	svc.DefaultTimeout = cfg.WatchDefault
	svc.MaxTimeout = cfg.WatchMax

	handler := &httpapi.Server{
		Content:       svc,
		Metadata:      md,
		Status:        status,
		Log:           log,
		VerboseErrors: cfg.VerboseErrors || verboseErrors,
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler.NewMux(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("dogma server listening")
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			serverErr <- httpSrv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		serverErr <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	status.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), status.GraceWindow+5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
