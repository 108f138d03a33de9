package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotwise/slotwise/libs/auth"
	"github.com/slotwise/slotwise/libs/config"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/libs/kafkax"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/libs/runtime"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/booking"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/busy"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/cache"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/directory"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/handlers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/storage"
)

func main() {
	config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewStore(pool, outboxRepo)
	catalog := storage.NewCatalogRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)

	busyFetcher := busy.NewFetcher(catalog, logger,
		busy.NewGoogleSource(
			config.String("GOOGLE_CLIENT_ID", ""),
			config.String("GOOGLE_CLIENT_SECRET", ""),
		),
		busy.NewICSSource(&http.Client{Timeout: 5 * time.Second}),
	)

	orchestrator := booking.NewOrchestrator(store, catalog, busyFetcher, logger)

	directoryProvider, err := directory.NewDirectoryProvider(logger, config.String("DIRECTORY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("directory provider init failed; using static fallback", "err", err)
		directoryProvider = directory.NewStaticProvider()
	}

	var slotsCache *cache.SlotsCache
	if redisClient != nil {
		slotsCache = cache.NewSlotsCache(redisClient, config.Duration("SLOTS_CACHE_TTL", 30*time.Second))
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	slotsHandler := handlers.NewSlotsHandler(catalog, store, busyFetcher, slotsCache, logger)
	bookingHandler := handlers.NewBookingHandler(orchestrator, bookingRepo, outboxRepo, slotsCache, directoryProvider, logger)
	scheduleHandler := handlers.NewScheduleHandler(catalog, logger)
	guard := auth.NewAPIKeyGuard(config.String("MANAGEMENT_API_KEY_HASH", ""))

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if redisClient != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(redisClient)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	mux.HandleFunc("/api/v1/public/slots", slotsHandler.List)
	mux.HandleFunc("/api/v1/public/bookings", bookingHandler.Create)
	mux.HandleFunc("/api/v1/public/bookings/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/bookings", bookingHandler.List)
	mux.HandleFunc("/api/v1/bookings/confirm", bookingHandler.Confirm)
	mux.Handle("/api/v1/schedules", guard.Middleware(http.HandlerFunc(scheduleHandler.PutWeekly)))
	mux.Handle("/api/v1/schedules/overrides", guard.Middleware(http.HandlerFunc(scheduleHandler.PutOverrides)))

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", auth.APIKeyHeader},
			MaxAge:         10 * time.Minute,
		}))
	}
	if redisClient != nil {
		limiter := httpx.NewRedisRateLimiter(redisClient, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
