package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"docsync/internal/domain"
	"docsync/internal/observability"
	"docsync/internal/providers"
	sqsqueue "docsync/internal/queue/sqs"
	"docsync/internal/store"
	"docsync/internal/util"
)

// EventPublisher hands ingested documents to the downstream
// extract-and-analyze pipeline.
type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, ev sqsqueue.DocumentEvent) error
}

// Sync pulls files changed since the integration's watermark. The
// watermark only advances after the whole pull lands, so a crash
// mid-sync re-pulls rather than silently skipping files.
type Sync struct {
	Store     SyncStore
	Registry  *providers.Registry
	Documents DocumentCreator
	Events    EventPublisher
	Logger    *slog.Logger
}

type syncResult struct {
	Files     int       `json:"files"`
	Watermark time.Time `json:"watermark"`
}

func (e *Sync) Execute(ctx context.Context, job domain.Job, integ domain.Integration) (json.RawMessage, error) {
	syncer, ok := e.Registry.Syncer(integ.Provider)
	if !ok {
		return nil, domain.Terminal(fmt.Errorf("provider %s does not support sync", integ.Provider))
	}

	var since time.Time
	if integ.LastSyncedAt != nil {
		since = *integ.LastSyncedAt
	}
	// Files modified while the pull runs belong to the next sync.
	pullStart := util.NowUTC()

	count, err := syncer.Pull(ctx, integ, since, func(f domain.SyncedFile) error {
		docID, err := e.Documents.Create(ctx, domain.DocumentRequest{
			Filename:      f.Name,
			MIME:          f.MIME,
			Data:          f.Data,
			OwnerID:       integ.UserID,
			IntegrationID: integ.ID,
			Channel:       integ.Provider,
			Provenance: domain.Provenance{
				SourceID: f.SourceID,
				Path:     f.Path,
				SentAt:   f.ModifiedAt,
			},
		})
		if err != nil {
			return err
		}
		observability.DocumentsIngested.WithLabelValues(string(integ.Provider)).Inc()
		return e.Events.PublishDocumentEvent(ctx, sqsqueue.DocumentEvent{
			DocumentID:    docID,
			OwnerID:       integ.UserID,
			IntegrationID: integ.ID,
			Provider:      integ.Provider,
			Filename:      f.Name,
			MIME:          f.MIME,
			SizeBytes:     int64(len(f.Data)),
			IngestedAt:    util.NowUTC(),
		})
	})
	if err != nil {
		return nil, classify(err)
	}

	now := util.NowUTC()
	if err := e.Store.TouchLastSynced(ctx, integ.ID, pullStart, now); err != nil {
		return nil, err
	}
	if count > 0 {
		audit := e.Store.InsertAuditEntry(ctx, store.AuditInsert{
			IntegrationID: integ.ID,
			UserID:        integ.UserID,
			Event:         domain.AuditDocumentIngested,
			Detail:        fmt.Sprintf("sync pulled %d file(s)", count),
			Now:           now,
		})
		if audit != nil {
			e.Logger.Error("audit write failed", "integration_id", integ.ID, "error", audit)
		}
	}

	e.Logger.Info("sync completed",
		"integration_id", integ.ID, "provider", integ.Provider,
		"files", count, "since", since)
	return json.Marshal(syncResult{Files: count, Watermark: pullStart})
}
