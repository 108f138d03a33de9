package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/slotwise/slotwise/libs/config"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/libs/kafkax"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/libs/runtime"
	"github.com/slotwise/slotwise/services/notifier-service/internal/consumer"
	"github.com/slotwise/slotwise/services/notifier-service/internal/email"
	"github.com/slotwise/slotwise/services/notifier-service/internal/inbox"
	"github.com/slotwise/slotwise/services/notifier-service/internal/notify"
	"github.com/slotwise/slotwise/services/notifier-service/internal/storage"
	"github.com/slotwise/slotwise/services/notifier-service/internal/webhook"
)

func main() {
	config.LoadDotEnv()

	service := config.String("SERVICE_NAME", "notifier-service")
	port, err := config.Port("PORT", "8085")
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

	brokers := config.String("KAFKA_BROKERS", "localhost:9092")
	groupID := config.String("KAFKA_GROUP_ID", "notifier-service")

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@slotwise.local"),
	)
	webhookRepo := storage.NewWebhookRepository(pool)
	notificationLog := storage.NewNotificationsRepository(pool)
	dispatcher := webhook.NewDispatcher(&http.Client{Timeout: config.Duration("WEBHOOK_TIMEOUT", 10*time.Second)}, webhookRepo, logger)
	notifier := notify.New(sender, dispatcher, webhookRepo, notificationLog, logger)

	inboxRepo := inbox.NewRepository(pool)
	topics := []string{
		notify.EventBookingCreated,
		notify.EventBookingConfirmed,
		notify.EventBookingCancelled,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, notifier.Handle(topic))
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
		logger.Info("consumer started", "topic", topic, "group_id", groupID)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	httpHandler := httpx.Chain(mux, httpx.WithRequestID, httpx.WithAccessLog(logger))
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
	wg.Wait()
	logger.Info("notifier stopped")
}
