package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"livedepartures/internal/board"
	"livedepartures/internal/cache"
	"livedepartures/internal/config"
	"livedepartures/internal/domain"
	"livedepartures/internal/handler"
	"livedepartures/internal/hub"
	"livedepartures/internal/ingestor"
	"livedepartures/internal/metrics"
	"livedepartures/internal/middleware"
	"livedepartures/internal/publisher"
	"livedepartures/internal/schedule"
	"livedepartures/internal/store"
	"livedepartures/internal/topology"
	"livedepartures/pkg/gtfs"
	"livedepartures/pkg/gtfsrt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting livedepartures server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"feed_url", cfg.FeedURL,
		"poll_interval", cfg.FeedPollInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock, err := domain.NewRealClock(cfg.Timezone)
	if err != nil {
		logger.Error("failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	sched, err := openSchedule(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open schedule database", "error", err)
		os.Exit(1)
	}
	defer sched.Close()

	var dir topology.Directory = topology.NewScheduleDirectory(sched)
	var graph *topology.GraphDirectory
	if cfg.Neo4jURI != "" {
		graph, err = topology.ConnectGraph(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase, logger)
		if err != nil {
			logger.Error("failed to connect to Neo4j, serving stops from the schedule", "error", err)
		} else {
			dir = graph
			defer graph.Close(context.Background())
		}
	}

	var l2 cache.L2
	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without L2 cache", "error", err)
			redisCache = nil
		} else {
			l2 = redisCache
			defer redisCache.Close()
		}
	}
	lookups := cache.NewLookups(sched, dir, l2, cfg.CacheTTL, logger)
	warmer := cache.NewCacheWarmer(lookups, logger)

	collector := metrics.New()

	updates := store.New(clock)
	feedClient := gtfsrt.New(cfg.FeedURL, cfg.FeedTimeout, gtfsrt.WithUserAgent(cfg.FeedUserAgent))
	poller := ingestor.NewFeedPoller(feedClient, updates, clock, cfg.FeedPollInterval, logger)
	poller.SetMetrics(collector)

	wsHub := hub.NewHub(logger)
	poller.AddBroadcaster(wsHub)

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, collector, logger)
		if err != nil {
			logger.Warn("failed to connect to NATS, live deltas will not be published", "error", err)
		} else {
			poller.AddBroadcaster(pub)
			defer pub.Close()
		}
	}

	var scheduleIng *ingestor.ScheduleIngestor
	if cfg.StaticGTFSURL != "" {
		downloader := gtfs.NewDownloader(cfg.StaticGTFSURL, cfg.FeedUserAgent, logger)
		scheduleIng = ingestor.NewScheduleIngestor(downloader, sched, cfg.StaticGTFSUpdateInterval, logger)
		if graph != nil {
			scheduleIng.AddSyncer(graph)
		}
		scheduleIng.SetOnUpdate(func(ctx context.Context) {
			if err := warmer.WarmAll(ctx); err != nil {
				logger.Warn("cache warm after schedule update failed", "error", err)
			}
		})
	}

	engine := board.NewEngine(sched, updates, clock, cfg.BoardLimit, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, clockwork.NewRealClock(), logger)
	limiter.OnBlocked(handler.ServerStats.IncRateLimitBlocked)

	health := handler.NewHealthHandler(poller, sched, clock)
	stats := handler.NewStatsHandler(updates, poller, wsHub, limiter)
	if scheduleIng != nil {
		health.SetScheduleStatus(scheduleIng)
	} else if mem, ok := sched.(*schedule.MemoryStore); ok {
		health.SetScheduleStatus(mem)
	}
	if redisCache != nil {
		health.SetCache(redisCache)
		stats.SetCache(lookups, redisCache)
	} else {
		stats.SetCache(lookups, nil)
	}

	mux := http.NewServeMux()
	handler.Handlers{
		HTTP:   handler.NewHTTPHandler(updates, engine, lookups, clock, logger),
		WS:     handler.NewWSHandler(wsHub, engine, cfg.CORSOrigins, logger),
		Health: health,
		Stats:  stats,
	}.Register(mux)
	mux.Handle("GET /metrics", collector.Handler())

	var h http.Handler = mux
	h = middleware.AccessLog(logger, collector)(h)
	h = handler.ServerStats.CountRequests(h)
	h = limiter.Middleware(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Gzip(h)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)
	go poller.Run(ctx)
	go limiter.Run(ctx)

	if scheduleIng != nil {
		go scheduleIng.Start(ctx)
	} else if cfg.CacheWarmOnStart {
		go func() {
			if err := warmer.WarmAll(ctx); err != nil {
				logger.Warn("initial cache warm failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openSchedule prefers PostgreSQL, then a SQLite file, then an in-memory
// store that only a static import can fill.
func openSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger) (schedule.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		return schedule.OpenPostgres(ctx, cfg.DatabaseURL, logger)
	case cfg.SQLiteDatabase != "":
		return schedule.OpenSQLite(cfg.SQLiteDatabase, logger)
	default:
		logger.Warn("no schedule database configured, using in-memory store")
		return schedule.NewMemoryStore(), nil
	}
}
