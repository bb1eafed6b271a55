package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicdesk/clinicdesk/internal/availability"
	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/handlers"
	"github.com/clinicdesk/clinicdesk/internal/notify"
	"github.com/clinicdesk/clinicdesk/internal/notify/chat"
	"github.com/clinicdesk/clinicdesk/internal/notify/email"
	"github.com/clinicdesk/clinicdesk/internal/notify/inapp"
	"github.com/clinicdesk/clinicdesk/internal/notify/sms"
	"github.com/clinicdesk/clinicdesk/internal/outbox"
	"github.com/clinicdesk/clinicdesk/internal/payments"
	"github.com/clinicdesk/clinicdesk/internal/reminder"
	"github.com/clinicdesk/clinicdesk/internal/storage"
	"github.com/clinicdesk/clinicdesk/libs/config"
	"github.com/clinicdesk/clinicdesk/libs/db"
	"github.com/clinicdesk/clinicdesk/libs/httpx"
	"github.com/clinicdesk/clinicdesk/libs/kafkax"
	otelx "github.com/clinicdesk/clinicdesk/libs/otel"
	"github.com/clinicdesk/clinicdesk/libs/runtime"
)

// reminderSource hands the scheduler its fire-time lookups from the same
// repositories the booking path uses.
type reminderSource struct {
	*storage.AppointmentRepository
	*storage.DirectoryRepository
}

func main() {
	service := config.String("SERVICE_NAME", "clinicdesk")
	port, err := config.Port("PORT", "8080")
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
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	clinicTZ := time.UTC
	if tzName := config.String("CLINIC_TIMEZONE", ""); tzName != "" {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			logger.Error("invalid CLINIC_TIMEZONE; falling back to UTC", "tz", tzName, "err", err)
		} else {
			clinicTZ = loc
		}
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	dirRepo := storage.NewDirectoryRepository(pool)
	jobRepo := storage.NewReminderJobRepository(pool)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var emailSender email.Sender
	if host := config.String("SMTP_HOST", ""); host != "" {
		emailSender = email.NewSMTPSender(host, config.String("SMTP_PORT", "587"), config.String("SMTP_FROM", ""))
	}
	var smsSender sms.Sender
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		smsSender = sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}
	var chatSender chat.Sender
	if url := config.String("CHAT_WEBHOOK_URL", ""); url != "" {
		chatSender = chat.NewWebhookSender(url, config.String("CHAT_WEBHOOK_TOKEN", ""), config.String("CHAT_NAMESPACE", "whatsapp"))
	}
	gateway := notify.NewGateway(emailSender, smsSender, chatSender, inapp.NewStoreSender(pool), logger)

	scheduler := reminder.NewScheduler(
		reminderSource{apptRepo, dirRepo},
		gateway,
		jobRepo,
		outbox.NewReminderEvents(outboxRepo, logger),
		logger,
	)
	defer scheduler.Shutdown()
	if err := scheduler.Recover(ctx); err != nil {
		logger.Error("reminder recovery failed", "err", err)
	}

	bookingSvc := booking.NewService(apptRepo, dirRepo, scheduler, gateway, logger, booking.Config{
		ClinicTZ:     clinicTZ,
		AdminEmail:   config.String("ADMIN_NOTIFY_EMAIL", ""),
		AdminInboxID: config.String("ADMIN_INBOX_ID", "admin"),
	})
	availabilitySvc := availability.NewService(apptRepo, availability.Config{
		DayStart:  config.String("CLINIC_DAY_START", "09:00"),
		DayEnd:    config.String("CLINIC_DAY_END", "17:00"),
		SlotEvery: time.Duration(config.Int("CLINIC_SLOT_MINUTES", 30)) * time.Minute,
		ClinicTZ:  clinicTZ,
	})
	paymentsSvc := payments.NewService(apptRepo, payments.Config{
		SecretKey: config.String("STRIPE_SECRET_KEY", ""),
		Currency:  config.String("PAYMENT_CURRENCY", "usd"),
	}, logger)

	handler := handlers.New(bookingSvc, availabilitySvc, paymentsSvc, logger, handlers.Config{
		JWTSecret:              jwtSecret,
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: int64(config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if strings.TrimSpace(kafkaBrokers) != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handler.Routes(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		}))
	}
	limit := config.Int("RATE_LIMIT", 100)
	window := time.Duration(config.Int("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr, Password: config.String("REDIS_PASSWORD", "")})
		defer func() { _ = rdb.Close() }()
		limiter := httpx.NewRedisRateLimiter(rdb, limit, window, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(limit, window).Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "clinicdesk")
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
