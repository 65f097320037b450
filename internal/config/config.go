package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type SchedulerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	MaxConcurrentJobs int           `envconfig:"MAX_CONCURRENT_JOBS" default:"10"`
	// Hard per-job bound so a hung provider cannot pin a concurrency slot.
	JobTimeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`
	RefreshLeadTime  time.Duration `envconfig:"OAUTH_REFRESH_LEAD_TIME" default:"10m"`
	PublicWebhookURL string        `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"`

	// AWS / blob + downstream events
	AWSRegion              string `envconfig:"AWS_REGION" required:"true"`
	DocumentEventsQueueURL string `envconfig:"DOCUMENT_EVENTS_QUEUE_URL" required:"true"`
	S3Bucket               string `envconfig:"S3_BUCKET" required:"true"`
	AWSEndpoint            string `envconfig:"AWS_ENDPOINT"` // LocalStack/minio override

	Providers ProviderConfig
}

type WebhookConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	MaxBodyBytes int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	FetchTimeout time.Duration `envconfig:"MEDIA_FETCH_TIMEOUT" default:"30s"`

	AWSRegion              string `envconfig:"AWS_REGION" required:"true"`
	DocumentEventsQueueURL string `envconfig:"DOCUMENT_EVENTS_QUEUE_URL" required:"true"`
	S3Bucket               string `envconfig:"S3_BUCKET" required:"true"`
	AWSEndpoint            string `envconfig:"AWS_ENDPOINT"`

	Providers ProviderConfig
}

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Interactive users land here after the OAuth dance, with either a
	// ?connected= or ?error= query parameter.
	DashboardURL string `envconfig:"DASHBOARD_URL" required:"true"`

	Providers ProviderConfig
}

// ProviderConfig carries the per-provider secrets and base URLs shared by
// all three binaries. Base URLs are overridable for local development.
type ProviderConfig struct {
	CallTimeout time.Duration `envconfig:"PROVIDER_CALL_TIMEOUT" default:"30s"`
	RPS         float64       `envconfig:"PROVIDER_RPS" default:"10"`
	Burst       int           `envconfig:"PROVIDER_BURST" default:"20"`

	TelegramBaseURL string `envconfig:"TELEGRAM_BASE_URL" default:"https://api.telegram.org"`

	WhatsAppBaseURL     string `envconfig:"WHATSAPP_BASE_URL" default:"https://graph.facebook.com/v19.0"`
	WhatsAppAppSecret   string `envconfig:"WHATSAPP_APP_SECRET"`
	WhatsAppVerifyToken string `envconfig:"WHATSAPP_VERIFY_TOKEN"`

	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `envconfig:"GOOGLE_REDIRECT_URL"`
	GoogleTokenURL     string `envconfig:"GOOGLE_TOKEN_URL"` // test override

	DropboxClientID     string `envconfig:"DROPBOX_CLIENT_ID"`
	DropboxClientSecret string `envconfig:"DROPBOX_CLIENT_SECRET"`
	DropboxRedirectURL  string `envconfig:"DROPBOX_REDIRECT_URL"`
	DropboxBaseURL      string `envconfig:"DROPBOX_BASE_URL" default:"https://api.dropboxapi.com"`
	DropboxContentURL   string `envconfig:"DROPBOX_CONTENT_URL" default:"https://content.dropboxapi.com"`
	DropboxTokenURL     string `envconfig:"DROPBOX_TOKEN_URL" default:"https://api.dropboxapi.com/oauth2/token"`
}

func LoadScheduler() SchedulerConfig {
	var cfg SchedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
