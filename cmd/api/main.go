package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docsync/internal/config"
	"docsync/internal/domain"
	"docsync/internal/httpapi"
	"docsync/internal/httpserver"
	"docsync/internal/logging"
	"docsync/internal/oauth"
	"docsync/internal/observability"
	"docsync/internal/providers"
	"docsync/internal/providers/telegram"
	"docsync/internal/providers/whatsapp"
	"docsync/internal/store/pg"
	"docsync/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)

	// The callback handler only asks the registry which providers take
	// webhook registrations, so the channel clients suffice.
	pcfg := cfg.Providers
	registry := providers.NewRegistry()
	registry.Register(domain.ProviderTelegram, telegram.NewClient(pcfg.TelegramBaseURL,
		providers.NewHTTPClient("telegram", pcfg.CallTimeout, pcfg.RPS, pcfg.Burst)))
	registry.Register(domain.ProviderWhatsApp, whatsapp.NewClient(pcfg.WhatsAppBaseURL, pcfg.WhatsAppAppSecret, pcfg.WhatsAppVerifyToken,
		providers.NewHTTPClient("whatsapp", pcfg.CallTimeout, pcfg.RPS, pcfg.Burst)))

	srv := httpserver.New()
	api := &httpserver.API{
		Store:        store,
		OAuth:        oauth.NewManager(pcfg),
		Registry:     registry,
		DashboardURL: cfg.DashboardURL,
		IDGen:        util.NewJobID,
	}
	api.Register(srv.Mux)
	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests)(srv.Mux))

	public := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	healthMux := httpapi.New().Mux
	healthMux.HandleFunc("/healthz", httpapi.Healthz())
	healthMux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))
	healthSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: healthMux,
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("api health listening", "port", cfg.MetricsPort)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("api shutdown", "signal", sig.String())
		case err := <-healthErrCh:
			if err != nil && err != http.ErrServerClosed {
				slog.Error("api health server failed", "err", err)
			}
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = public.Shutdown(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
