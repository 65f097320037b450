package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type ProviderType string

const (
	ProviderTelegram ProviderType = "telegram"
	ProviderWhatsApp ProviderType = "whatsapp"
	ProviderGDrive   ProviderType = "gdrive"
	ProviderDropbox  ProviderType = "dropbox"
)

func (p ProviderType) Valid() bool {
	switch p {
	case ProviderTelegram, ProviderWhatsApp, ProviderGDrive, ProviderDropbox:
		return true
	}
	return false
}

// Integration is a configured connection to an external document source.
// AccessToken and TokenExpiry are either both set or both empty.
type Integration struct {
	ID           string
	UserID       string
	Provider     ProviderType
	ChannelKey   string // bot chat id, phone-number id; empty for OAuth sources
	Settings     map[string]string
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time
	Active       bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Setting returns a provider-specific setting, or "" when absent.
func (i Integration) Setting(key string) string {
	if i.Settings == nil {
		return ""
	}
	return i.Settings[key]
}

type JobKind string

const (
	KindOAuthRefresh   JobKind = "oauth_refresh"
	KindSync           JobKind = "sync"
	KindWebhookSetup   JobKind = "webhook_setup"
	KindTestConnection JobKind = "test_connection"
)

// Kinds lists every job kind. The scheduler requires an executor per
// entry at construction, so adding a kind without a handler fails fast.
func Kinds() []JobKind {
	return []JobKind{KindOAuthRefresh, KindSync, KindWebhookSetup, KindTestConnection}
}

func (k JobKind) Valid() bool {
	switch k {
	case KindOAuthRefresh, KindSync, KindWebhookSetup, KindTestConnection:
		return true
	}
	return false
}

// DefaultMaxAttempts bounds retries for jobs created without an
// explicit attempts budget.
const DefaultMaxAttempts = 3

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of scheduled background work against an Integration.
// Jobs are never deleted; terminal rows are retained for audit.
type Job struct {
	ID            string          `json:"id"`
	IntegrationID string          `json:"integrationId"`
	Kind          JobKind         `json:"kind"`
	Status        JobStatus       `json:"status"`
	Priority      int             `json:"priority"` // lower runs sooner
	ScheduledAt   time.Time       `json:"scheduledAt"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	LastError     string          `json:"lastError,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type CreateJobRequest struct {
	IntegrationID string          `json:"integrationId"`
	Kind          JobKind         `json:"kind"`
	Priority      int             `json:"priority"`
	ScheduledAt   *time.Time      `json:"scheduledAt,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

func (r CreateJobRequest) Validate() error {
	if r.IntegrationID == "" {
		return ErrMissingIntegration
	}
	if !r.Kind.Valid() {
		return ErrUnknownJobKind
	}
	return nil
}

var (
	ErrMissingIntegration = errors.New("missing integration id")
	ErrUnknownJobKind     = errors.New("unknown job kind")
)

// Attachment is a provider-specific media descriptor carried by an
// inbound message. Handle resolves to bytes via the provider's media API.
type Attachment struct {
	Handle   string
	Name     string
	MIMEHint string
	SizeHint int64
	Caption  string
}

// InboundMessage is a verified webhook payload. It is consumed once per
// delivery and never persisted as its own entity.
type InboundMessage struct {
	Provider    ProviderType
	ChannelKey  string
	MessageID   string
	SenderID    string
	Timestamp   time.Time
	Text        string
	Attachments []Attachment
}

// MediaFile is the resolved bytes of one attachment.
type MediaFile struct {
	Name string
	MIME string
	Data []byte
}

// SyncedFile is one file pulled by a provider sync routine.
type SyncedFile struct {
	SourceID   string
	Name       string
	MIME       string
	Data       []byte
	Path       string
	ModifiedAt time.Time
}

// Provenance records where an ingested document came from.
type Provenance struct {
	MessageID string    `json:"messageId,omitempty"`
	SenderID  string    `json:"senderId,omitempty"`
	SentAt    time.Time `json:"sentAt,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Path      string    `json:"path,omitempty"`
	SourceID  string    `json:"sourceId,omitempty"`
}

// DocumentRequest is the canonical document-creation request handed to
// the document store.
type DocumentRequest struct {
	Filename      string
	MIME          string
	Data          []byte
	OwnerID       string
	IntegrationID string
	Channel       ProviderType
	Provenance    Provenance
}

// Audit event names written by this subsystem.
const (
	AuditAuthorizationGranted = "authorization_granted"
	AuditDocumentIngested     = "document_ingested"
	AuditIntegrationError     = "integration_error"
)
