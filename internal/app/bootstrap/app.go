package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/salon-booking-bot/internal/api/router"
	"github.com/wolfman30/salon-booking-bot/internal/availability"
	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/clients"
	"github.com/wolfman30/salon-booking-bot/internal/compliance"
	appconfig "github.com/wolfman30/salon-booking-bot/internal/config"
	"github.com/wolfman30/salon-booking-bot/internal/conversation"
	"github.com/wolfman30/salon-booking-bot/internal/dedup"
	"github.com/wolfman30/salon-booking-bot/internal/http/handlers"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/internal/notify"
	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// App is the wired API process.
type App struct {
	Handler   http.Handler
	Scheduler *notify.Scheduler

	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	redis     *redis.Client
	assistant *conversation.GeminiAssistant
	logger    *logging.Logger
}

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	Registry      *prometheus.Registry
	Messaging     *metrics.MessagingMetrics
	Booking       *metrics.BookingMetrics
	Notifications *metrics.NotificationMetrics
	Dedup         *metrics.DedupMetrics
}

// BuildMetrics registers the application collectors plus the Go runtime ones.
func BuildMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{
		Registry:      reg,
		Messaging:     metrics.NewMessagingMetrics(reg),
		Booking:       metrics.NewBookingMetrics(reg),
		Notifications: metrics.NewNotificationMetrics(reg),
		Dedup:         metrics.NewDedupMetrics(reg),
	}
}

// Build connects to the datastores and wires every component.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	pool, sqlDB, err := BuildDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{pool: pool, sqlDB: sqlDB, logger: logger}
	app.redis = BuildRedisClient(ctx, cfg, logger, true)

	m := BuildMetrics()

	tenantStore := tenancy.NewStore(pool)
	directory := tenancy.NewDirectory(tenantStore, cfg.TenantCacheTTL, logger)
	wa := whatsapp.New(whatsapp.Config{
		BaseURL:    cfg.WhatsAppBaseURL,
		APIVersion: cfg.WhatsAppAPIVersion,
		Timeout:    cfg.WhatsAppTimeout,
		MaxRetries: cfg.WhatsAppMaxRetries,
		Backoff:    cfg.WhatsAppRetryBackoff,
		Logger:     logger,
		Refresher:  directory,
	})

	var claimer dedup.Claimer
	if c := dedup.NewRedisClaimer(app.redis, cfg.DedupClaimTTL); c != nil {
		claimer = c
	}
	gate := dedup.NewGate(dedup.Config{Capacity: cfg.DedupCacheSize}, dedup.NewMessageLogStore(pool), claimer, logger, m.Dedup)

	audit := compliance.NewAuditService(sqlDB)
	coordinator := booking.NewCoordinator(booking.NewStore(pool), audit, logger, booking.WithMetrics(m.Booking))
	calculator := availability.NewCalculator(availability.NewStore(pool), nil, logger)
	clientStore := clients.NewStore(pool)
	messageStore := messaging.NewStore(pool)

	email, provider := BuildEmailSender(ctx, cfg, logger)
	logger.Info("operator email configured", "provider", provider)

	catalog := conversation.NewCatalog(pool)
	registry := conversation.NewToolRegistry(conversation.ToolDeps{
		Availability:       calculator,
		Bookings:           coordinator,
		Catalog:            catalog,
		Clients:            clientStore,
		Conversations:      messageStore,
		Handoffs:           notify.NewHandoffNotifier(email, logger),
		GranularityMinutes: cfg.SlotGranularityMinutes,
		Logger:             logger,
	})
	assistant, err := conversation.NewGeminiAssistant(ctx, conversation.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, registry, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("bootstrap: assistant: %w", err)
	}
	app.assistant = assistant

	processor := conversation.NewProcessor(conversation.ProcessorDeps{
		Gate:          gate,
		Tenants:       directory,
		Clients:       clientStore,
		Conversations: messageStore,
		Channel:       wa,
		Appointments:  coordinator,
		Assistant:     assistant,
		Catalog:       catalog,
		Metrics:       m.Messaging,
		Logger:        logger,
	})

	jobs := notify.NewJobs(notify.NewPostgresStore(pool), wa, tenantStore, logger, m.Notifications)
	if cfg.SchedulerEnabled {
		scheduler, err := notify.NewScheduler(jobs, notify.SchedulerConfig{
			Location:         cfg.Location(),
			ConfirmationSpec: cfg.ConfirmationCron,
			ReminderSpec:     cfg.ReminderCron,
		}, logger)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("bootstrap: scheduler: %w", err)
		}
		app.Scheduler = scheduler
	}

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin API disabled")
	}
	if cfg.MetaAppSecret == "" {
		logger.Warn("META_APP_SECRET not set, webhook deliveries will be rejected")
	}

	app.Handler = router.New(&router.Config{
		Logger: logger,
		Webhook: handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{
			VerifyToken:    cfg.MetaVerifyToken,
			AppSecret:      cfg.MetaAppSecret,
			Processor:      processor,
			InboundTimeout: cfg.InboundTimeout,
			Logger:         logger,
			Metrics:        m.Messaging,
		}),
		Admin:           handlers.NewAdminAppointmentsHandler(coordinator, audit, tenantStore, jobs, logger),
		Health:          handlers.Health(pool),
		MetricsHandler:  promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		AdminAuthSecret: cfg.AdminJWTSecret,
		AdminRateLimit:  cfg.AdminRateLimitRPS,
	})
	return app, nil
}

// Close stops the scheduler and releases connections. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: stop scheduler: %w", err))
		}
	}
	if a.assistant != nil {
		if err := a.assistant.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: close assistant: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: close redis: %w", err))
		}
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
