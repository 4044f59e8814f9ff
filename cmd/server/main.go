// Package main is the entry point for the chat server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ni-heemang/chat-flow/internal/analysis"
	"github.com/ni-heemang/chat-flow/internal/api"
	"github.com/ni-heemang/chat-flow/internal/auth"
	"github.com/ni-heemang/chat-flow/internal/broadcast"
	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/cache"
	"github.com/ni-heemang/chat-flow/internal/chat"
	"github.com/ni-heemang/chat-flow/internal/config"
	"github.com/ni-heemang/chat-flow/internal/health"
	"github.com/ni-heemang/chat-flow/internal/middleware"
	"github.com/ni-heemang/chat-flow/internal/presence"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Chat-Flow Server")
		fmt.Println()
		fmt.Println("Usage: server [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Storage. Postgres when DATABASE_URL is set, in-memory otherwise so the
	// server stays usable for local development without a database.
	var (
		db       *sql.DB
		rooms    chat.RoomRepository
		members  chat.MemberRepository
		messages chat.MessageRepository
		events   analysis.EventStore
		records  analysis.RecordStore
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		rooms = chat.NewPostgresRoomRepository(db)
		members = chat.NewPostgresMemberRepository(db)
		messages = chat.NewPostgresMessageRepository(db)
		events = analysis.NewPostgresEventStore(db)
		records = analysis.NewPostgresRecordStore(db)
		logger.Info("using postgres storage")
	} else {
		rooms = chat.NewInMemoryRoomRepository()
		members = chat.NewInMemoryMemberRepository()
		messages = chat.NewInMemoryMessageRepository()
		events = analysis.NewInMemoryEventStore()
		records = analysis.NewInMemoryRecordStore()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Redis backs the stats cache and rate limiting when available.
	var redisClient *redis.Client
	var statCache cache.Cache
	var rateStore middleware.RateLimitStore
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		statCache = cache.NewRedis(redisClient, logger)
		rateStore = middleware.NewRedisRateLimitStore(redisClient).WithLogger(logger)
		logger.Info("using redis cache", "addr", cfg.RedisAddr)
	} else {
		statCache = cache.NewMemory()
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		rateStore = memStore
		logger.Warn("REDIS_ADDR not set, using in-memory cache and rate limits")
	}

	// Metrics registry.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register http metrics: %w", err)
	}
	analysisMetrics := analysis.NewMetrics()
	if err := analysisMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register analysis metrics: %w", err)
	}
	if rs, ok := rateStore.(*middleware.RedisRateLimitStore); ok {
		rateStore = rs.WithMetrics(httpMetrics)
	}

	// Auth, presence, fan-out.
	var tokens *auth.Service
	if cfg.JWTPreviousSecret != "" {
		tokens = auth.NewServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		tokens = auth.NewService(cfg.JWTSecret)
	}

	eventBus := bus.New()
	broadcaster := broadcast.NewBroadcaster(logger)
	broadcaster.AttachBus(eventBus)
	presenceRegistry := presence.NewRegistry(logger, eventBus, tokens, members)

	// Analysis wiring. The LLM analyzer is primary when configured; the
	// heuristic fallback inside the pipeline covers everything else.
	var primary analysis.Analyzer
	if cfg.LLMBaseURL != "" {
		primary = analysis.NewLLMAnalyzer(analysis.LLMConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout(),
		})
		logger.Info("llm analyzer enabled", "model", cfg.LLMModel)
	}

	aggregator := analysis.NewAggregator(messages)
	pipeline := analysis.NewPipeline(logger, primary, aggregator, events, statCache, eventBus, analysisMetrics, analysis.PipelineConfig{
		Workers:        cfg.AnalysisWorkers,
		QueueSize:      cfg.AnalysisQueueSize,
		PrimaryTimeout: cfg.LLMTimeout(),
	})
	notifier := analysis.NewNotifier(eventBus, aggregator)
	scheduler := analysis.NewScheduler(logger, eventBus, notifier, aggregator, records, analysisMetrics, analysis.SchedulerConfig{
		PushInterval:     cfg.PushInterval(),
		MessageThreshold: cfg.PushMessageThreshold,
		SweepInterval:    cfg.SweepInterval(),
		SnapshotInterval: cfg.SnapshotInterval(),
	})

	pipeline.Start(ctx)
	defer pipeline.Stop()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Presence is connection-scoped; any rows left online from a previous
	// process are stale.
	if err := members.SetAllOffline(ctx); err != nil {
		logger.Error("failed to reset online flags", "error", err)
	}

	// Warm recent rooms so the first websocket push has data behind it.
	if cfg.WarmupDays > 0 {
		since := time.Now().AddDate(0, 0, -cfg.WarmupDays)
		warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		rebuilt, err := aggregator.RebuildAll(warmCtx, since, cfg.WarmupDays)
		cancel()
		if err != nil {
			logger.Error("stats warmup failed", "error", err)
		} else {
			logger.Info("stats warmup complete", "rooms", len(rebuilt), "days", cfg.WarmupDays)
		}
	}

	// Handlers.
	roomHandlers := api.NewRoomHandlers(rooms, members, messages)
	analysisHandlers := api.NewAnalysisHandlers(aggregator, records, statCache, scheduler)
	wsHandlers := api.NewChatWSHandlers(presenceRegistry, broadcaster, eventBus, rooms, members, messages, pipeline)

	healthConfig := api.HealthHandlersConfig{}
	if db != nil {
		healthConfig.DBChecker = health.NewDBChecker(db)
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	requireAuth := api.RequireAuth(tokens)
	globalLimit := middleware.RateLimiter(rateStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())

	mux := http.NewServeMux()
	mux.Handle("/api/rooms", requireAuth(http.HandlerFunc(roomHandlers.Rooms)))
	mux.Handle("/api/rooms/", requireAuth(http.HandlerFunc(roomHandlers.RoomSubtree)))
	mux.Handle("/api/analysis/rooms/", requireAuth(http.HandlerFunc(analysisHandlers.RoomSubtree)))
	mux.Handle("/api/analysis/rebuild-all", requireAuth(http.HandlerFunc(analysisHandlers.RebuildAll)))
	mux.HandleFunc("/ws/chat", wsHandlers.Chat)
	mux.HandleFunc("/healthz", healthHandlers.Health)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"chat-flow","version":"1.0.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins

	// Middleware chain, outermost first: RequestID -> Logging -> CORS ->
	// HTTPMetrics -> RateLimiter.
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.CORS(corsConfig)(
				middleware.HTTPMetrics(httpMetrics)(
					globalLimit(mux)))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
