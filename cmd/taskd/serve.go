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

	"github.com/chepyr/daily-planner/internal/config"
	"github.com/chepyr/daily-planner/internal/db"
	"github.com/chepyr/daily-planner/internal/handlers"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := mustMakeLogger(cfg.LogLevel)
			return run(cfg, log, !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
	return cmd
}

func run(cfg config.Config, log *slog.Logger, migrate bool) error {
	log.Info("starting taskd", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to db: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Error("failed to close db connection", "error", err)
		}
	}()

	if migrate {
		if err := db.Migrate(ctx, dbConn); err != nil {
			return fmt.Errorf("failed to migrate db: %w", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		return err
	}

	authLimiter := handlers.NewRateLimiter(cfg.Auth.Limit, cfg.Auth.Window)
	defer authLimiter.Stop()
	wsLimiter := handlers.NewRateLimiter(cfg.WS.Limit, cfg.WS.Window)
	defer wsLimiter.Stop()

	handler := &handlers.Handler{
		TaskRepo:       db.NewTaskRepository(dbConn),
		UserRepo:       db.NewUserRepository(dbConn),
		AuthLimiter:    authLimiter,
		WSLimiter:      wsLimiter,
		WSHub:          handlers.NewWSHub(log),
		Logger:         log,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		TokenTTL:       cfg.Auth.TokenTTL,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.WS.AllowedOrigins,
		TrustedProxies: proxies,
		Location:       loc,
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server is running", "address", cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down taskd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
