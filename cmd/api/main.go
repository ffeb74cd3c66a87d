package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"freightquote/internal/config"
	"freightquote/internal/crm"
	"freightquote/internal/db"
	"freightquote/internal/dispatch"
	"freightquote/internal/provider"
	"freightquote/internal/quota"
	"freightquote/internal/quote"
	"freightquote/internal/rate"
	"freightquote/internal/search"
	"freightquote/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("DATABASE_URL not set. Please export DATABASE_URL before running.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	p := provider.NewByName(cfg.RateProvider, provider.Options{
		URL:    cfg.ProviderURL,
		APIKey: cfg.ProviderAPIKey,
	})
	var locator rate.Locator = rate.PlaceholderLocator{City: cfg.PlaceholderCity, State: cfg.PlaceholderState}
	if cfg.PostalLookup {
		locator = db.NewPostalLocator(pool, locator, logger)
	}

	gate := quota.NewGate(quota.NewPgStore(pool), logger)
	quotes := quote.NewPgStore(pool, cfg.PersistChunkSize)
	recorder := quote.NewRecorder(quotes, 0, logger)
	confirmer, _ := p.(provider.Confirmer)

	deps := search.Deps{
		Builder: rate.NewRequestBuilder(locator),
		Gate:    gate,
		Dispatcher: dispatch.New(p, dispatch.Options{
			BatchSize:   cfg.DispatchBatchSize,
			CallTimeout: cfg.CallTimeout(),
			Logger:      logger,
		}),
		Recorder: recorder,
		Logger:   logger,
	}
	var publisher *crm.Publisher
	if cfg.KafkaBroker != "" {
		publisher = crm.NewPublisher(cfg.KafkaBroker, cfg.CRMTopic, cfg.CRMTopN, logger)
		deps.Handoff = publisher
	}

	h := server.New(server.Deps{
		Search:   search.New(deps),
		Gate:     gate,
		Quotes:   quotes,
		Resolver: quote.NewResolver(quotes, confirmer, logger),
		WebhookSecrets: map[string]string{
			"provider": cfg.BookingWebhookSecret,
			"dummy":    cfg.DummyWebhookSecret,
		},
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Room for two sequential batches of provider calls.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("api listening",
			"port", cfg.Port,
			"rate_provider", p.Name(),
			"call_timeout", cfg.CallTimeout(),
			"postal_lookup", cfg.PostalLookup,
			"crm_enabled", publisher != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let detached quote writes and CRM handoffs finish before the pool closes.
	recorder.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close crm publisher", "error", err)
		}
	}
	slog.Info("server stopped")
}
