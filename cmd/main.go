package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"table-orders/internal/config"
	"table-orders/internal/database"
	"table-orders/internal/idempotency"
	"table-orders/internal/logger"
	"table-orders/internal/models"
	"table-orders/internal/services/order"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ordersvc",
		Short:         "Table order placement and cancellation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(
		serveCommand(&configPath),
		migrateCommand(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand(configPath *string) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP order service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runOrderService(ctx, cfg, log, skipMigrations); err != nil {
				log.Error("service_failed", "Order service failed", "startup", err, nil)
				return err
			}
			log.Info("service_stopped", "Service stopped gracefully", "shutdown", nil)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "apply all migrations or roll back the latest one",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := database.Direction(args[0])
			if direction != database.Up && direction != database.Down {
				return fmt.Errorf("unknown migration direction %q", args[0])
			}

			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer log.Close()

			st, err := openStorage(cfg, log)
			if err != nil {
				return err
			}
			defer st.close()

			return st.migrate(direction)
		},
	}
}

func bootstrap(configPath string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	log := logger.NewWithOptions(cfg.App.Name, logger.Options{
		Level: cfg.App.LogLevel,
		File:  cfg.App.LogFile,
	})
	return cfg, log, nil
}

// storage bundles the configured store with its migration and close hooks
type storage struct {
	store   order.Store
	migrate func(database.Direction) error
	close   func()
}

func openStorage(cfg *config.Config, log *logger.Logger) (*storage, error) {
	if cfg.Database.Driver == config.DriverPostgres {
		db, err := database.New(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("db_connected", "Connected to PostgreSQL database", "startup", nil)
		return &storage{
			store:   order.NewPostgresStore(db.Pool),
			migrate: db.RunMigrations,
			close:   db.Close,
		}, nil
	}

	db, err := database.OpenSQL(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("db_connected", fmt.Sprintf("Connected to %s database", cfg.Database.Driver), "startup", nil)
	return &storage{
		store: order.NewSQLStore(db, cfg.Database.Driver),
		migrate: func(direction database.Direction) error {
			return database.RunSQLMigrations(db, cfg.Database.Driver, direction, log)
		},
		close: func() { db.Close() },
	}, nil
}

// runOrderService runs the order service until ctx is canceled
func runOrderService(ctx context.Context, cfg *config.Config, log *logger.Logger, skipMigrations bool) error {
	requestID := logger.GenerateRequestID()

	st, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	if !skipMigrations {
		if err := st.migrate(database.Up); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var idem order.IdempotencyStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis_unavailable", "Redis not reachable, idempotency keys are skipped until it recovers", requestID, err, nil)
		} else {
			log.Info("redis_connected", "Connected to Redis", requestID, nil)
		}
		idem = idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.LockTTL)
	}

	service := order.NewService(st.store, order.Options{
		RequireSession:  cfg.Orders.RequireSession,
		CancelPolicy:    models.CancelPolicy(cfg.Orders.CancelPolicy),
		AllowCancelByID: cfg.Orders.AllowCancelByID,
	}, log)
	handler := order.NewHandler(service, idem, log, order.HandlerOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("Order Service started on %s", cfg.App.HTTPAddr), requestID, map[string]interface{}{
			"addr":          cfg.App.HTTPAddr,
			"driver":        cfg.Database.Driver,
			"cancel_policy": cfg.Orders.CancelPolicy,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
