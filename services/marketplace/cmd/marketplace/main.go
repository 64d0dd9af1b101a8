package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/agendaja/agendaja/libs/config"
	"github.com/agendaja/agendaja/libs/db"
	"github.com/agendaja/agendaja/libs/httpx"
	"github.com/agendaja/agendaja/libs/kafkax"
	otelx "github.com/agendaja/agendaja/libs/otel"
	"github.com/agendaja/agendaja/libs/runtime"
	"github.com/agendaja/agendaja/services/marketplace/internal/availability"
	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
	"github.com/agendaja/agendaja/services/marketplace/internal/bus"
	"github.com/agendaja/agendaja/services/marketplace/internal/handlers"
	"github.com/agendaja/agendaja/services/marketplace/internal/outbox"
	"github.com/agendaja/agendaja/services/marketplace/internal/storage"
	"github.com/agendaja/agendaja/services/marketplace/internal/ws"
)

func main() {
	service := config.String("SERVICE_NAME", "marketplace")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

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

	var (
		store     booking.Store
		catalog   booking.Catalog
		schedules availability.ScheduleSource
		booked    availability.BookedSource
		svcCat    handlers.ServiceCatalog
		checks    []runtime.ReadyCheck
	)

	dbURL := config.String("DATABASE_URL", "")
	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	if dbURL != "" {
		pool, err := db.Open(ctx, dbURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository(pool)
		apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
		catRepo := storage.NewCatalogRepository(pool)
		store, catalog, schedules, booked, svcCat = apptRepo, catRepo, catRepo, apptRepo, catRepo
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   kafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		if kafkaBrokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
		}
	} else {
		// Local development without Postgres: everything in process memory,
		// nothing survives a restart and no events leave the service.
		logger.Warn("DATABASE_URL not set; using in-memory store")
		mem := storage.NewMemoryStore()
		store, catalog, schedules, booked, svcCat = mem, mem, mem, mem, mem
	}

	statusBus := bus.New(logger)
	resolver := availability.NewResolver(schedules, booked)
	coordinator := booking.NewCoordinator(store, catalog, resolver, statusBus, logger)

	appointmentHandler := handlers.NewAppointmentHandler(coordinator, logger)
	serviceHandler := handlers.NewServiceHandler(svcCat, logger)
	wsHandler := ws.NewHandler(ctx, coordinator, statusBus, jwtSecret, logger)
	authed := handlers.RequireAuth(jwtSecret, logger)

	bodyLimit := int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 64*1024))
	requestTimeout := time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second
	api := func(h http.Handler, m ...httpx.Middleware) http.Handler {
		m = append(m, httpx.WithBodyLimit(bodyLimit), httpx.WithTimeout(requestTimeout))
		return httpx.Chain(h, m...)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("POST /api/appointments", api(http.HandlerFunc(appointmentHandler.Create), authed))
	mux.Handle("PATCH /api/appointments/{id}/status", api(http.HandlerFunc(appointmentHandler.UpdateStatus), authed))
	mux.Handle("GET /api/appointments/my-appointments", api(http.HandlerFunc(appointmentHandler.MyAppointments), authed))
	mux.Handle("GET /api/appointments/availability", api(http.HandlerFunc(appointmentHandler.Availability)))
	mux.Handle("GET /api/appointments/{id}", api(http.HandlerFunc(appointmentHandler.Get), authed))
	mux.Handle("POST /api/appointments/{id}/review", api(http.HandlerFunc(appointmentHandler.Review), authed))
	mux.Handle("GET /api/services/{id}", api(http.HandlerFunc(serviceHandler.Get)))
	mux.Handle("GET /api/services", api(http.HandlerFunc(serviceHandler.ListByProvider)))
	// No timeout wrapper here: websocket connections are long-lived.
	mux.Handle("/ws", wsHandler)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimitMiddleware(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "marketplace")

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

// rateLimitMiddleware prefers the Redis fixed-window limiter so limits hold
// across instances; without REDIS_ADDR a per-process limiter stands in.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		limiter := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "marketplace")
		return limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}
