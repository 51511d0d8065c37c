package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/ozoneai/ozone/internal/analysis"
	"github.com/ozoneai/ozone/internal/auth"
	"github.com/ozoneai/ozone/internal/background"
	"github.com/ozoneai/ozone/internal/config"
	"github.com/ozoneai/ozone/internal/connectors"
	"github.com/ozoneai/ozone/internal/delivery"
	"github.com/ozoneai/ozone/internal/events"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/metrics"
	"github.com/ozoneai/ozone/internal/news"
	"github.com/ozoneai/ozone/internal/scheduler"
	"github.com/ozoneai/ozone/internal/storage/pg"
)

type stores struct {
	tasks    scheduler.TaskStore
	settings connectors.SettingsStore
	db       *pg.Database
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.TaskStore != "postgres" {
		log.Info("using file stores",
			slog.String("tasks", cfg.TaskStorePath),
			slog.String("settings", cfg.SettingsStorePath))
		return &stores{
			tasks:    scheduler.NewFileStore(cfg.TaskStorePath),
			settings: connectors.NewFileStore(cfg.SettingsStorePath),
		}, nil
	}

	db, err := pg.InitDatabase(ctx, cfg.DatabaseURL, pg.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	log.Info("using postgres stores")
	return &stores{
		tasks:    pg.NewTaskStore(db.DB, log),
		settings: pg.NewSettingsStore(db.DB),
		db:       db,
	}, nil
}

func newNewsService(ctx context.Context, cfg *config.Config, log *logger.Logger) *news.Service {
	client := news.NewClient(news.ClientConfig{
		APIKey:  cfg.NewsAPIKey,
		BaseURL: cfg.NewsAPIBaseURL,
	}, log)

	var claims news.ClaimSearcher
	if cfg.FactCheckAPIKey != "" {
		fc, err := news.NewGoogleFactCheck(ctx, cfg.FactCheckAPIKey)
		if err != nil {
			log.Error("failed to create fact check client", slog.String("error", err.Error()))
		} else {
			claims = fc
		}
	}

	return news.NewService(client, claims, news.Config{
		DefaultQueries:       cfg.News.DefaultQueries,
		RelatedKeywords:      cfg.News.RelatedKeywords,
		FactCheckDomains:     cfg.News.FactCheckDomains,
		DefaultPageSize:      cfg.News.DefaultPageSize,
		Language:             cfg.News.DefaultLanguage,
		LookbackDays:         cfg.News.LookbackDays,
		ExpandedLookbackDays: cfg.News.ExpandedLookback,
		BroadLookbackDays:    cfg.News.BroadLookbackDays,
	}, log)
}

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting ozone", slog.String("instance_id", logger.GetInstanceID()))

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	publisher, nc, err := events.Connect(cfg.NatsURL, cfg.NatsSubjectPrefix, log)
	if err != nil {
		log.Error("failed to connect to nats", slog.String("error", err.Error()))
		os.Exit(1)
	}

	m := metrics.New()

	location, err := scheduler.ParseZone(cfg.SchedulerUTCOffset)
	if err != nil {
		log.Error("invalid scheduler offset", slog.String("error", err.Error()))
		os.Exit(1)
	}
	mode, err := scheduler.ParseMode(cfg.SchedulerMode)
	if err != nil {
		log.Error("invalid scheduler mode", slog.String("error", err.Error()))
		os.Exit(1)
	}

	connectorService := connectors.NewService(st.settings, log)

	dispatcher := delivery.NewDispatcher(
		delivery.NewTwilioClient(delivery.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioAPIBaseURL,
			Timeout:    cfg.DeliveryTimeout,
		}, log),
		delivery.NewSendGridClient(delivery.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			BaseURL:   cfg.SendGridBaseURL,
			Timeout:   cfg.DeliveryTimeout,
		}, log),
		cfg.TwilioContentSID,
		log,
	)

	sched := scheduler.New(scheduler.Config{
		Location:     location,
		Mode:         mode,
		Retention:    cfg.SchedulerRetention,
		Destinations: connectorService,
		Publisher:    publisher,
		Metrics:      m,
	}, st.tasks, dispatcher, log)

	if err := log.LogOperation(ctx, "restore_scheduled_tasks", func() error {
		_, err := sched.Restore(ctx)
		return err
	}); err != nil {
		log.Error("failed to restore scheduled tasks", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := analysis.NewManager(analysis.ManagerConfig{
		Endpoint:     cfg.AnalysisWSURL,
		StoreInNeo4j: cfg.AnalysisStoreInNeo4j,
		IdleTimeout:  cfg.AnalysisIdleTimeout,
		Metrics:      m,
		Publisher:    publisher,
	}, log)

	newsService := newNewsService(ctx, cfg, log)

	runner := background.NewRunner(log)
	if err := runner.Add("scheduler-resync", cfg.SchedulerResync, func(ctx context.Context) error {
		armed, pruned, err := sched.Resync(ctx)
		if err != nil {
			return err
		}
		log.Debug("scheduler resynced", slog.Int("armed", armed), slog.Int("pruned", pruned))
		return nil
	}); err != nil {
		log.Error("failed to register resync job", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := runner.Add("analysis-reap", "@every 1m", func(context.Context) error {
		if n := manager.Reap(cfg.AnalysisSessionTTL); n > 0 {
			log.Debug("finished analyses reaped", slog.Int("count", n))
		}
		return nil
	}); err != nil {
		log.Error("failed to register reap job", slog.String("error", err.Error()))
		os.Exit(1)
	}

	validator, err := auth.NewValidator(cfg.ValidatorType, cfg.JWTJWKSURL, cfg.SupabaseJWTSecret)
	if err != nil {
		log.Error("failed to initialize token validator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	authMiddleware := auth.NewMiddleware(validator)

	analysisHandler := analysis.NewHandler(manager, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instance_id": logger.GetInstanceID()})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	router.GET("/ws/analyze", authMiddleware.RequireAuth(), analysisHandler.Relay)

	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	{
		scheduler.NewHandler(sched, log).RegisterRoutes(api)
		connectors.NewHandler(connectorService, log).RegisterRoutes(api)
		analysisHandler.RegisterRoutes(api)
		news.NewHandler(newsService, log).RegisterRoutes(api)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		shutdown(shutdownCtx, log, srv, runner, sched, manager, nc, st)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server exited")
}

func shutdown(
	ctx context.Context,
	log *logger.Logger,
	srv *http.Server,
	runner *background.Runner,
	sched *scheduler.Scheduler,
	manager *analysis.Manager,
	nc *nats.Conn,
	st *stores,
) {
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := runner.Stop(ctx); err != nil {
		log.Error("job runner did not stop cleanly", slog.String("error", err.Error()))
	}
	if err := sched.Shutdown(ctx); err != nil {
		log.Error("scheduler did not stop cleanly", slog.String("error", err.Error()))
	}
	if n := manager.CloseAll(); n > 0 {
		log.Info("open analyses closed", slog.Int("count", n))
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Error("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
	if st.db != nil {
		if err := st.db.Close(); err != nil {
			log.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
}
