package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/salon-booking-bot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/salon-booking-bot/internal/config"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting salon booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	srv := newServer(cfg.Port, app.Handler, cfg.InboundTimeout)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	if app.Scheduler != nil {
		app.Scheduler.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	if err := shutdown(srv, app, logger); err != nil {
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// newServer keeps the write deadline past the inbound processing timeout so
// the webhook acknowledgement is still delivered after a slow message.
func newServer(port string, handler http.Handler, inboundTimeout time.Duration) *http.Server {
	writeTimeout := 15 * time.Second
	if inboundTimeout+5*time.Second > writeTimeout {
		writeTimeout = inboundTimeout + 5*time.Second
	}
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown drains HTTP first so no new inbound work reaches the app, then
// stops the scheduler and closes connections.
func shutdown(srv *http.Server, app *bootstrap.App, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var failed error
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		failed = err
	}
	if err := app.Close(ctx); err != nil {
		logger.Error("application close failed", "error", err)
		failed = errors.Join(failed, err)
	}
	return failed
}
