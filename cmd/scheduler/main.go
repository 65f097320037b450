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
	"docsync/internal/logging"
	"docsync/internal/oauth"
	"docsync/internal/observability"
	"docsync/internal/providers"
	"docsync/internal/providers/dropbox"
	"docsync/internal/providers/gdrive"
	"docsync/internal/providers/telegram"
	"docsync/internal/providers/whatsapp"
	sqsqueue "docsync/internal/queue/sqs"
	"docsync/internal/scheduler"
	"docsync/internal/store/pg"
	"docsync/internal/worker"
)

func buildRegistry(cfg config.ProviderConfig) *providers.Registry {
	reg := providers.NewRegistry()
	reg.Register(domain.ProviderTelegram, telegram.NewClient(cfg.TelegramBaseURL,
		providers.NewHTTPClient("telegram", cfg.CallTimeout, cfg.RPS, cfg.Burst)))
	reg.Register(domain.ProviderWhatsApp, whatsapp.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppAppSecret, cfg.WhatsAppVerifyToken,
		providers.NewHTTPClient("whatsapp", cfg.CallTimeout, cfg.RPS, cfg.Burst)))
	reg.Register(domain.ProviderGDrive, gdrive.NewClient(cfg.CallTimeout))
	reg.Register(domain.ProviderDropbox, dropbox.NewClient(cfg.DropboxBaseURL, cfg.DropboxContentURL,
		providers.NewHTTPClient("dropbox", cfg.CallTimeout, cfg.RPS, cfg.Burst)))
	return reg
}

func main() {
	cfg := config.LoadScheduler()
	logger := logging.Init("scheduler", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("scheduler db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		slog.Error("scheduler sqs client init failed", "err", err)
		os.Exit(1)
	}
	s3Client, err := awsutil.NewS3Client(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		slog.Error("scheduler s3 client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)

	registry := buildRegistry(cfg.Providers)
	docs := docstore.New(store, &blob.Store{S3: s3Client, Bucket: cfg.S3Bucket})
	events := &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.DocumentEventsQueueURL}
	oauthMgr := oauth.NewManager(cfg.Providers)

	executors := map[domain.JobKind]scheduler.Executor{
		domain.KindOAuthRefresh: &worker.OAuthRefresh{
			Store: store, OAuth: oauthMgr, Logger: logger,
		},
		domain.KindSync: &worker.Sync{
			Store: store, Registry: registry, Documents: docs, Events: events, Logger: logger,
		},
		domain.KindWebhookSetup: &worker.WebhookSetup{
			Registry: registry, PublicURL: cfg.PublicWebhookURL, Logger: logger,
		},
		domain.KindTestConnection: &worker.TestConnection{
			Registry: registry, Logger: logger,
		},
	}

	sched, err := scheduler.New(scheduler.Options{
		Store:           store,
		Executors:       executors,
		MaxConcurrent:   cfg.MaxConcurrentJobs,
		PollInterval:    cfg.PollInterval,
		JobTimeout:      cfg.JobTimeout,
		RefreshLeadTime: cfg.RefreshLeadTime,
		Logger:          logger,
	})
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	// health server (liveness + readiness + metrics)
	healthMux := httpapi.New().Mux
	healthMux.HandleFunc("/healthz", httpapi.Healthz())
	healthMux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: healthMux,
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("scheduler health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	doneCh := make(chan struct{})
	go func() {
		slog.Info("scheduler polling",
			"interval", cfg.PollInterval,
			"max_concurrent", cfg.MaxConcurrentJobs,
			"job_timeout", cfg.JobTimeout,
		)
		sched.Run(ctx)
		close(doneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("scheduler health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("scheduler shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-doneCh:
	case <-time.After(cfg.JobTimeout + 5*time.Second):
		slog.Info("scheduler shutdown timeout waiting for in-flight jobs")
	}
}
