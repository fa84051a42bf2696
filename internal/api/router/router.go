package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/salon-booking-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-booking-bot/internal/http/middleware"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Webhook         *handlers.WhatsAppWebhookHandler
	Admin           *handlers.AdminAppointmentsHandler
	Health          http.HandlerFunc
	MetricsHandler  http.Handler
	AdminAuthSecret string
	// AdminRateLimit is requests per second per client for the admin API; 0 disables it.
	AdminRateLimit float64
}

// New creates the chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := cfg.Health
	if health == nil {
		health = handlers.Health(nil)
	}
	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Webhook != nil {
		r.Get("/webhook", cfg.Webhook.Verify)
		r.Post("/webhook", cfg.Webhook.Receive)
	}

	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			if cfg.AdminRateLimit > 0 {
				admin.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.AdminRateLimit, int(cfg.AdminRateLimit*2)+1)))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			cfg.Admin.Routes(admin)
		})
	}

	return r
}
