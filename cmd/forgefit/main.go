package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/forgefit/forgefit/cmd/forgefit/cli"
	"github.com/forgefit/forgefit/internal/app"
	"github.com/forgefit/forgefit/internal/cashclose"
	cashclosehttp "github.com/forgefit/forgefit/internal/cashclose/http"
	"github.com/forgefit/forgefit/internal/observability"
	"github.com/forgefit/forgefit/internal/platform/cache"
	"github.com/forgefit/forgefit/internal/platform/db"
	"github.com/forgefit/forgefit/internal/rbac"
	"github.com/forgefit/forgefit/internal/shared"
	"github.com/forgefit/forgefit/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1:]))
	}
	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLifetime})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(dbpool, logger); err != nil {
			return err
		}
	}

	var previewCache *cache.Versioned
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, preview cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		previewCache = cache.NewVersioned(redisClient, "cashclose", cfg.PreviewCacheTTL)
	}

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	cashService := cashclose.NewService(cashclose.NewRepository(dbpool), cashclose.ServiceConfig{
		DefaultPeriodType: cfg.PeriodType(),
		Logger:            logger,
		Audit:             shared.NewAuditLogger(dbpool),
		Idempotency:       shared.NewIdempotencyStore(dbpool),
		Cache:             previewCache,
		Notifier:          jobClient,
		Metrics:           cashclose.NewMetrics(metrics.Registerer()),
	})
	rbacMiddleware := rbac.Middleware{Logger: logger}
	cashHandler := cashclosehttp.NewHandler(logger, cashService, rbacMiddleware, cfg.ExportBasePath)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CashCloseHandler: cashHandler,
		RBACMiddleware:   rbacMiddleware,
		Metrics:          metrics,
		JobHandler:       jobs.NewHandler(inspector, logger),
		Database:         dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

// runCommand handles the operator subcommands: migrate, jobs trigger <task> [-period id], jobs stats.
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	switch args[0] {
	case "migrate":
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		if err := db.Migrate(pool, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
		return 0
	case "jobs":
		return runJobs(ctx, cfg, logger, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want migrate or jobs)\n", args[0])
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: forgefit jobs trigger <task> [-period id] | forgefit jobs stats")
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		periodID := fs.Int64("period", 0, "cash period id for cash:period:closed")
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: forgefit jobs trigger <task> [-period id]")
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *periodID)
		if err != nil {
			logger.Error("trigger job", slog.Any("error", err))
			return 1
		}
		logger.Info("job enqueued", slog.String("id", info.ID), slog.String("type", info.Type))
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			logger.Error("inspect queue", slog.Any("error", err))
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}
