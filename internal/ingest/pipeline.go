// Package ingest turns verified webhook deliveries into stored
// documents: verify the signature, parse the payload, fetch each
// attachment, normalize and persist.
package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"docsync/internal/domain"
	"docsync/internal/observability"
	"docsync/internal/providers"
	sqsqueue "docsync/internal/queue/sqs"
	"docsync/internal/store"
	"docsync/internal/util"
)

// Store is the persistence surface of the pipeline.
type Store interface {
	GetIntegration(ctx context.Context, id string) (domain.Integration, bool, error)
	FindIntegrationByChannelKey(ctx context.Context, provider domain.ProviderType, key string) (domain.Integration, bool, error)
	ClaimInboundAttachment(ctx context.Context, in store.ReceiptClaim) (bool, error)
	TouchLastSynced(ctx context.Context, id string, syncedAt, now time.Time) error
	InsertAuditEntry(ctx context.Context, in store.AuditInsert) error
}

// DocumentCreator persists one normalized document and returns its id.
type DocumentCreator interface {
	Create(ctx context.Context, req domain.DocumentRequest) (string, error)
}

// EventPublisher enqueues the downstream extract-and-analyze job.
type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, ev sqsqueue.DocumentEvent) error
}

type Pipeline struct {
	Store     Store
	Registry  *providers.Registry
	Documents DocumentCreator
	Events    EventPublisher

	// FetchTimeout bounds each attachment download so one slow provider
	// cannot hold the delivery handler open indefinitely.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Delivery is one raw inbound webhook request.
type Delivery struct {
	Provider domain.ProviderType
	// IntegrationHint carries the integration id embedded in the webhook
	// path for providers whose payload has no channel identifier usable
	// before verification (Telegram). Empty for hub-style providers.
	IntegrationHint string
	Header          http.Header
	Body            []byte
}

// Process runs the delivery through verification, parsing and per
// attachment ingestion. The returned status is the HTTP code to answer
// with; 200 covers both full ingestion and deliberate no-ops, since a
// non-200 makes the provider redeliver.
func (p *Pipeline) Process(ctx context.Context, d Delivery) int {
	channel, ok := p.Registry.Channel(d.Provider)
	if !ok {
		return http.StatusNotFound
	}

	// Providers with per-integration secrets need the integration before
	// the signature check. A delivery for an unknown integration is
	// acknowledged and dropped; unconfigured channels are not errors.
	var hinted domain.Integration
	if d.IntegrationHint != "" {
		integ, found, err := p.Store.GetIntegration(ctx, d.IntegrationHint)
		if err != nil {
			p.Logger.Error("integration lookup", "integration_id", d.IntegrationHint, "error", err)
			return http.StatusInternalServerError
		}
		if !found || !integ.Active {
			observability.WebhookDeliveries.WithLabelValues(string(d.Provider), "unknown_integration").Inc()
			return http.StatusOK
		}
		hinted = integ
	}

	if !channel.VerifySignature(hinted, d.Header, d.Body) {
		observability.WebhookDeliveries.WithLabelValues(string(d.Provider), "bad_signature").Inc()
		p.Logger.Warn("webhook signature rejected", "provider", d.Provider, "integration_id", d.IntegrationHint)
		return http.StatusUnauthorized
	}

	messages, err := channel.ParsePayload(d.Body)
	if err != nil {
		observability.WebhookDeliveries.WithLabelValues(string(d.Provider), "malformed").Inc()
		p.Logger.Warn("webhook payload rejected", "provider", d.Provider, "error", err)
		return http.StatusBadRequest
	}

	for _, msg := range messages {
		integ := hinted
		if integ.ID == "" {
			found, ok, err := p.Store.FindIntegrationByChannelKey(ctx, d.Provider, msg.ChannelKey)
			if err != nil {
				p.Logger.Error("channel lookup", "provider", d.Provider, "channel_key", msg.ChannelKey, "error", err)
				return http.StatusInternalServerError
			}
			if !ok {
				observability.WebhookDeliveries.WithLabelValues(string(d.Provider), "unknown_channel").Inc()
				continue
			}
			integ = found
		}
		p.ingestMessage(ctx, integ, msg)
	}

	observability.WebhookDeliveries.WithLabelValues(string(d.Provider), "accepted").Inc()
	return http.StatusOK
}

// ingestMessage persists every attachment it can. One attachment
// failing is logged and skipped; siblings still land.
func (p *Pipeline) ingestMessage(ctx context.Context, integ domain.Integration, msg domain.InboundMessage) {
	if len(msg.Attachments) == 0 {
		// Text-only message; nothing to ingest.
		return
	}

	channel, _ := p.Registry.Channel(msg.Provider)
	ingested := 0
	for _, att := range msg.Attachments {
		fresh, err := p.Store.ClaimInboundAttachment(ctx, store.ReceiptClaim{
			Provider:         msg.Provider,
			MessageID:        msg.MessageID,
			AttachmentHandle: att.Handle,
			Now:              util.NowUTC(),
		})
		if err != nil {
			p.Logger.Error("receipt claim", "message_id", msg.MessageID, "handle", att.Handle, "error", err)
			continue
		}
		if !fresh {
			// A previous delivery of this message already took it.
			observability.MediaFetches.WithLabelValues(string(msg.Provider), "duplicate").Inc()
			continue
		}
		if p.ingestAttachment(ctx, channel, integ, msg, att) {
			ingested++
		}
	}

	if ingested == 0 {
		return
	}
	now := util.NowUTC()
	if err := p.Store.TouchLastSynced(ctx, integ.ID, now, now); err != nil {
		p.Logger.Error("touch last synced", "integration_id", integ.ID, "error", err)
	}
	err := p.Store.InsertAuditEntry(ctx, store.AuditInsert{
		IntegrationID: integ.ID,
		UserID:        integ.UserID,
		Event:         domain.AuditDocumentIngested,
		Detail:        "webhook message " + msg.MessageID,
		Now:           now,
	})
	if err != nil {
		p.Logger.Error("audit write failed", "integration_id", integ.ID, "error", err)
	}
}

func (p *Pipeline) ingestAttachment(ctx context.Context, channel providers.Channel, integ domain.Integration, msg domain.InboundMessage, att domain.Attachment) bool {
	fctx := ctx
	cancel := func() {}
	if p.FetchTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, p.FetchTimeout)
	}
	media, err := channel.FetchAttachment(fctx, integ, att)
	cancel()
	if err != nil {
		observability.MediaFetches.WithLabelValues(string(msg.Provider), "error").Inc()
		p.Logger.Error("attachment fetch failed",
			"provider", msg.Provider, "integration_id", integ.ID,
			"message_id", msg.MessageID, "handle", att.Handle, "error", err)
		return false
	}
	observability.MediaFetches.WithLabelValues(string(msg.Provider), "success").Inc()

	docID, err := p.Documents.Create(ctx, domain.DocumentRequest{
		Filename:      media.Name,
		MIME:          media.MIME,
		Data:          media.Data,
		OwnerID:       integ.UserID,
		IntegrationID: integ.ID,
		Channel:       msg.Provider,
		Provenance: domain.Provenance{
			MessageID: msg.MessageID,
			SenderID:  msg.SenderID,
			SentAt:    msg.Timestamp,
			Caption:   att.Caption,
		},
	})
	if err != nil {
		p.Logger.Error("document create failed",
			"integration_id", integ.ID, "message_id", msg.MessageID, "error", err)
		return false
	}
	observability.DocumentsIngested.WithLabelValues(string(msg.Provider)).Inc()

	err = p.Events.PublishDocumentEvent(ctx, sqsqueue.DocumentEvent{
		DocumentID:    docID,
		OwnerID:       integ.UserID,
		IntegrationID: integ.ID,
		Provider:      msg.Provider,
		Filename:      media.Name,
		MIME:          media.MIME,
		SizeBytes:     int64(len(media.Data)),
		IngestedAt:    util.NowUTC(),
	})
	if err != nil {
		// The document is stored; a lost event is recoverable by a later
		// sync or manual replay, so the delivery still counts.
		p.Logger.Error("document event publish failed", "document_id", docID, "error", err)
	}
	return true
}
