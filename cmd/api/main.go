package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/techdocs/turbo/internal/apidoc"
	"github.com/techdocs/turbo/internal/config"
	"github.com/techdocs/turbo/internal/db"
	"github.com/techdocs/turbo/internal/file"
	"github.com/techdocs/turbo/internal/storage"
	"github.com/techdocs/turbo/internal/todo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serveCmd := newServeCmd()
	cmd := &cobra.Command{
		Use:          "api",
		Short:        "Tech Docs API server",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	cmd.AddCommand(serveCmd, newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on startup")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := bootstrap()
				if err != nil {
					return err
				}
				return db.Migrate(cfg.DatabaseURL, logger)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				cfg, logger, err := bootstrap()
				if err != nil {
					return err
				}
				return db.Rollback(cfg.DatabaseURL, steps, logger)
			},
		},
	)
	return cmd
}

func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

func serve(ctx context.Context, migrate bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
	}

	driver, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}

	// Wire dependencies: repository → service → handler
	fileSvc, err := file.NewService(file.NewRepository(pool), driver, file.Options{
		MaxSize:          cfg.File.MaxSize,
		AllowOctetStream: cfg.File.AllowOctetStream,
		CacheSize:        cfg.File.CacheSize,
	}, logger)
	if err != nil {
		return err
	}
	opener, _ := driver.(storage.Opener)
	fileHandler := file.NewHandler(fileSvc, opener, cfg.File.MaxSize, logger)
	todoHandler := todo.NewHandler(todo.NewStore(), fileSvc, cfg.File.MaxSize, logger)

	doc, err := apidoc.NewDocument(apidoc.Build(cfg.PublicBaseURL, cfg.AuthEnabled()))
	if err != nil {
		return err
	}
	doc.Register()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, logger, fileHandler, todoHandler, doc),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", srv.Addr),
			slog.String("driver", driver.Name()),
			slog.Bool("auth", cfg.AuthEnabled()),
		)
		logger.Info("swagger UI available", slog.String("url", cfg.PublicBaseURL+"/swagger/index.html"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
