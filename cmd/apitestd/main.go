// cmd/apitestd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/config"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/server"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("apitestd stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// openStore selects the storage backend named by server.store_backend.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Server.StoreBackend {
	case "", "memory":
		return storage.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := storage.NewPostgres(ctx, cfg.Database.ConnString())
		if err != nil {
			return nil, nil, err
		}
		if err := storage.MigratePostgres(ctx, pg.DB()); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("postgres store ready", "host", cfg.Database.Host, "database", cfg.Database.Name)
		return pg, func() { _ = pg.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Server.StoreBackend)
	}
}

// run serves the mock API and, when configured, a separate metrics listener
// until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	h, err := server.New(cfg, store, logger)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Server.Address,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.Server.MetricsAddress != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.MetricsAddress,
			Handler:           server.NewMetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("apitestd listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return h.RunNonceJanitor(gctx, janitorInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
