package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/shintairiku/cohere-rag/internal/batch"
	"github.com/shintairiku/cohere-rag/internal/config"
	"github.com/shintairiku/cohere-rag/internal/embed"
	"github.com/shintairiku/cohere-rag/internal/handler"
	"github.com/shintairiku/cohere-rag/internal/job"
	"github.com/shintairiku/cohere-rag/internal/middleware"
	"github.com/shintairiku/cohere-rag/internal/model"
	"github.com/shintairiku/cohere-rag/internal/notify"
	"github.com/shintairiku/cohere-rag/internal/pipeline"
	"github.com/shintairiku/cohere-rag/internal/repo"
	"github.com/shintairiku/cohere-rag/internal/schedule"
	"github.com/shintairiku/cohere-rag/internal/service"
	"github.com/shintairiku/cohere-rag/internal/source"
	"github.com/shintairiku/cohere-rag/internal/store"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cohere-rag",
		Short: "per-tenant image vector sync and similarity search service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the API server and the auto-sync schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return runServer(app)
		},
	}

	var syncTenant string
	var syncAllTenants bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "sync one tenant now, or every auto-sync tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if syncAllTenants {
				return syncAll(ctx, app)
			}
			if syncTenant == "" {
				return fmt.Errorf("--tenant or --all is required")
			}
			return syncOne(ctx, app, syncTenant)
		},
	}
	syncCmd.Flags().StringVar(&syncTenant, "tenant", "", "tenant id to sync")
	syncCmd.Flags().BoolVar(&syncAllTenants, "all", false, "sync every auto-sync tenant")

	var restoreTenant string
	var restoreVersion int64
	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "roll a tenant's snapshot back to a retained backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if restoreTenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			if restoreVersion <= 0 {
				return fmt.Errorf("--version is required")
			}
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := app.tenants.Restore(ctx, restoreTenant, restoreVersion); err != nil {
				return err
			}
			fmt.Printf("restored tenant %s to version %d\n", restoreTenant, restoreVersion)
			return nil
		},
	}
	restoreCmd.Flags().StringVar(&restoreTenant, "tenant", "", "tenant id")
	restoreCmd.Flags().Int64Var(&restoreVersion, "version", 0, "backup version to restore")

	rootCmd.AddCommand(runCmd, syncCmd, restoreCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

type app struct {
	cfg     *config.Config
	db      *sql.DB
	store   store.Store
	source  source.Source
	client  *embed.Client
	tenants *service.TenantService
	sync    *service.SyncService
	search  *service.SearchService
	health  *service.HealthService
}

func (a *app) Close() {
	_ = a.db.Close()
}

func buildApp(configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := repo.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	src, err := source.New(cfg.Source)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init source: %w", err)
	}
	provider, err := embed.NewProvider(cfg.Embed.Provider, cfg.Embed.Data)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init embed provider: %w", err)
	}
	client := embed.New(
		embed.NewEmbedder(provider, cfg.Embed.Model),
		time.Duration(cfg.Embed.TimeoutSeconds)*time.Second,
		embed.RetryConfig{
			MaxAttempts: cfg.Embed.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Embed.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Embed.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:  cfg.Embed.Retry.Multiplier,
		},
		embed.WithFetcher(src.Open),
		embed.WithDimension(cfg.Embed.Dimension),
	)
	pipe := pipeline.New(src, st, client, pipeline.Config{
		CheckpointEvery: cfg.Sync.CheckpointEvery,
		ListTimeout:     time.Duration(cfg.Sync.ListTimeoutSeconds) * time.Second,
		RunTimeout:      time.Duration(cfg.Sync.RunTimeoutSeconds) * time.Second,
	})

	guard := batch.NewRunGuard()
	tenantRepo := repo.NewTenantRepo(db)
	runRepo := repo.NewRunRepo(db)
	searchSvc := service.NewSearchService(st, client, cfg.Search)
	tenantSvc := service.NewTenantService(tenantRepo, runRepo, st, guard, searchSvc)
	syncSvc := service.NewSyncService(tenantRepo, runRepo, pipe, guard, searchSvc,
		notify.New(cfg.Notify), cfg.Sync.MaxParallel, cfg.Sync.ReportDir)
	healthSvc := service.NewHealthService(db, st, src, client)

	return &app{
		cfg:     cfg,
		db:      db,
		store:   st,
		source:  src,
		client:  client,
		tenants: tenantSvc,
		sync:    syncSvc,
		search:  searchSvc,
		health:  healthSvc,
	}, nil
}

func runServer(app *app) error {
	cfg := app.cfg
	logutil.GetLogger(context.Background()).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("store", cfg.Store.Type),
		zap.String("source", cfg.Source.Type),
		zap.String("embed_provider", cfg.Embed.Provider),
		zap.String("embed_model", cfg.Embed.Model),
	)

	var window time.Duration
	if cfg.RateLimit.Enabled {
		window = time.Minute / time.Duration(cfg.RateLimit.PerMinute)
	}
	deps := handler.RouterDeps{
		Tenants:         handler.NewTenantHandler(app.tenants),
		Sync:            handler.NewSyncHandler(app.sync),
		Search:          handler.NewSearchHandler(app.search),
		Health:          handler.NewHealthHandler(app.health),
		RateLimitWindow: window,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Schedule.Enabled {
		sched := schedule.NewCronScheduler()
		if err := sched.AddJob(job.NewAutoSyncJob(app.sync), cfg.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule auto sync: %w", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	logutil.GetLogger(context.Background()).Info("http server listening",
		zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func syncAll(ctx context.Context, app *app) error {
	var mu sync.Mutex
	var bar *progressbar.ProgressBar
	progress := func(done, total int, outcome model.TenantOutcome) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("syncing tenants"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		label := outcome.TenantID
		if outcome.Name != "" {
			label = outcome.Name
		}
		bar.Describe(label)
		_ = bar.Set(done)
	}

	report, err := app.sync.RunBatch(ctx, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	fmt.Printf("batch finished: %d tenants, %d succeeded, %d failed, %d rejected, %d embedded\n",
		report.Tenants, report.Succeeded, report.Failed, report.Rejected, report.Embedded)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d tenants failed", report.Failed, report.Tenants)
	}
	return nil
}

func syncOne(ctx context.Context, app *app, tenantID string) error {
	result, err := app.sync.SyncNow(ctx, tenantID)
	if err != nil {
		return err
	}
	fmt.Printf("sync %s: %d added, %d updated, %d removed, %d unchanged, %d embedded, %d skipped in %s\n",
		result.TenantID, result.Added, result.Updated, result.Removed, result.Unchanged,
		result.Embedded, result.Skipped, result.Duration())
	return nil
}
