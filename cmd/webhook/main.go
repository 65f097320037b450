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

	"docsync/internal/awsutil"
	"docsync/internal/blob"
	"docsync/internal/config"
	"docsync/internal/docstore"
	"docsync/internal/domain"
	"docsync/internal/httpapi"
	"docsync/internal/httpserver"
	"docsync/internal/ingest"
	"docsync/internal/logging"
	"docsync/internal/observability"
	"docsync/internal/providers"
	"docsync/internal/providers/telegram"
	"docsync/internal/providers/whatsapp"
	sqsqueue "docsync/internal/queue/sqs"
	"docsync/internal/store/pg"
)

func main() {
	cfg := config.LoadWebhook()
	logger := logging.Init("webhook", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("webhook db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		slog.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}
	s3Client, err := awsutil.NewS3Client(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		slog.Error("webhook s3 client init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)

	// Only the channel providers receive webhooks; OAuth-pull providers
	// have nothing to register here.
	pcfg := cfg.Providers
	waClient := whatsapp.NewClient(pcfg.WhatsAppBaseURL, pcfg.WhatsAppAppSecret, pcfg.WhatsAppVerifyToken,
		providers.NewHTTPClient("whatsapp", pcfg.CallTimeout, pcfg.RPS, pcfg.Burst))
	registry := providers.NewRegistry()
	registry.Register(domain.ProviderTelegram, telegram.NewClient(pcfg.TelegramBaseURL,
		providers.NewHTTPClient("telegram", pcfg.CallTimeout, pcfg.RPS, pcfg.Burst)))
	registry.Register(domain.ProviderWhatsApp, waClient)

	pipeline := &ingest.Pipeline{
		Store:        store,
		Registry:     registry,
		Documents:    docstore.New(store, &blob.Store{S3: s3Client, Bucket: cfg.S3Bucket}),
		Events:       &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.DocumentEventsQueueURL},
		FetchTimeout: cfg.FetchTimeout,
		Logger:       logger,
	}

	srv := httpserver.New()
	wh := &httpserver.Webhook{
		Pipeline:     pipeline,
		WhatsApp:     waClient,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	wh.Register(srv.Mux)
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
		slog.Info("webhook health listening", "port", cfg.MetricsPort)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("webhook shutdown", "signal", sig.String())
		case err := <-healthErrCh:
			if err != nil && err != http.ErrServerClosed {
				slog.Error("webhook health server failed", "err", err)
			}
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = public.Shutdown(shutdownCtx)
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}
