package store

import (
	"encoding/json"
	"time"

	"docsync/internal/domain"
)

type JobInsert struct {
	ID            string
	IntegrationID string
	Kind          domain.JobKind
	Priority      int
	ScheduledAt   time.Time
	MaxAttempts   int
	Data          json.RawMessage
	Now           time.Time
}

type JobComplete struct {
	ID     string
	Result json.RawMessage
	Now    time.Time
}

type JobReschedule struct {
	ID        string
	LastError string
	RunAt     time.Time
	Now       time.Time
}

type JobFail struct {
	ID        string
	LastError string
	Now       time.Time
}

type JobFilter struct {
	IntegrationID string
	Status        domain.JobStatus
	Kind          domain.JobKind
	Limit         int
}

type TokenUpdate struct {
	IntegrationID string
	AccessToken   string
	RefreshToken  string
	Expiry        time.Time
	Now           time.Time
}

type DocumentInsert struct {
	ID            string
	OwnerID       string
	IntegrationID string
	Filename      string
	MIME          string
	StorageKey    string
	Size          int64
	Channel       domain.ProviderType
	Provenance    domain.Provenance
	Now           time.Time
}

type AuditInsert struct {
	IntegrationID string
	UserID        string
	Event         string
	Detail        string
	Now           time.Time
}

// ReceiptClaim deduplicates webhook redeliveries: one row per
// (provider, message id, attachment handle), inserted before a document
// is persisted.
type ReceiptClaim struct {
	Provider         domain.ProviderType
	MessageID        string
	AttachmentHandle string
	Now              time.Time
}
