// Package worker implements the four job executors the scheduler
// dispatches to: token refresh, provider sync, webhook registration and
// credential checks.
package worker

import (
	"context"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
	"docsync/internal/store"
)

// TokenStore is the persistence surface of the refresh executor. Token
// fields are mutated nowhere else in the job path.
type TokenStore interface {
	UpdateIntegrationTokens(ctx context.Context, in store.TokenUpdate) error
	DeactivateIntegration(ctx context.Context, id string, now time.Time) error
	InsertAuditEntry(ctx context.Context, in store.AuditInsert) error
}

// SyncStore is the persistence surface of the sync executor.
type SyncStore interface {
	TouchLastSynced(ctx context.Context, id string, syncedAt, now time.Time) error
	InsertAuditEntry(ctx context.Context, in store.AuditInsert) error
}

// DocumentCreator persists one normalized document and returns its id.
type DocumentCreator interface {
	Create(ctx context.Context, req domain.DocumentRequest) (string, error)
}

// classify settles the retry decision for a provider-call failure:
// transient errors pass through for backoff, everything else is wrapped
// terminal so the scheduler fails the job on the spot.
func classify(err error) error {
	if err == nil || domain.IsTerminal(err) {
		return err
	}
	if providers.Retryable(err) {
		return err
	}
	return domain.Terminal(err)
}
