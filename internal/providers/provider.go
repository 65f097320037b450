// Package providers defines the capability set each external document
// source implements. The webhook pipeline and job executors select an
// implementation once by provider type and call the capabilities
// uniformly; no provider-specific branching lives outside this tree.
package providers

import (
	"context"
	"net/http"
	"time"

	"docsync/internal/domain"
)

// Channel is a messaging provider that pushes documents at us via
// webhooks (chat-bot style drops).
type Channel interface {
	// VerifySignature authenticates a raw delivery against the
	// integration's shared secret. Implementations must use a
	// constant-time comparison. integ is the zero value for providers
	// whose secret is deployment-level rather than per-integration.
	VerifySignature(integ domain.Integration, header http.Header, body []byte) bool

	// ParsePayload decodes a verified body into zero or more inbound
	// messages. Text-only messages come back with no attachments.
	ParsePayload(body []byte) ([]domain.InboundMessage, error)

	// FetchAttachment resolves an attachment descriptor to bytes via the
	// provider's media API.
	FetchAttachment(ctx context.Context, integ domain.Integration, att domain.Attachment) (domain.MediaFile, error)
}

// WebhookRegistrar registers this deployment's public webhook URL with
// the provider. Re-registering the same URL must not error.
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, integ domain.Integration, publicURL string) error
}

// ConnectionTester performs a lightweight read-only credential check and
// returns the provider-side identity it authenticated as.
type ConnectionTester interface {
	TestConnection(ctx context.Context, integ domain.Integration) (string, error)
}

// Syncer pulls files changed since the watermark. emit is called once per
// file; returning an error from emit aborts the pull so the watermark is
// never advanced past an unpersisted file.
type Syncer interface {
	Pull(ctx context.Context, integ domain.Integration, since time.Time, emit func(domain.SyncedFile) error) (int, error)
}

// Registry maps provider types to their capability implementations.
type Registry struct {
	channels   map[domain.ProviderType]Channel
	registrars map[domain.ProviderType]WebhookRegistrar
	testers    map[domain.ProviderType]ConnectionTester
	syncers    map[domain.ProviderType]Syncer
}

func NewRegistry() *Registry {
	return &Registry{
		channels:   map[domain.ProviderType]Channel{},
		registrars: map[domain.ProviderType]WebhookRegistrar{},
		testers:    map[domain.ProviderType]ConnectionTester{},
		syncers:    map[domain.ProviderType]Syncer{},
	}
}

// Register wires impl under the given provider type for every capability
// it implements.
func (r *Registry) Register(p domain.ProviderType, impl any) {
	if c, ok := impl.(Channel); ok {
		r.channels[p] = c
	}
	if w, ok := impl.(WebhookRegistrar); ok {
		r.registrars[p] = w
	}
	if t, ok := impl.(ConnectionTester); ok {
		r.testers[p] = t
	}
	if s, ok := impl.(Syncer); ok {
		r.syncers[p] = s
	}
}

func (r *Registry) Channel(p domain.ProviderType) (Channel, bool) {
	c, ok := r.channels[p]
	return c, ok
}

func (r *Registry) Registrar(p domain.ProviderType) (WebhookRegistrar, bool) {
	w, ok := r.registrars[p]
	return w, ok
}

func (r *Registry) Tester(p domain.ProviderType) (ConnectionTester, bool) {
	t, ok := r.testers[p]
	return t, ok
}

func (r *Registry) Syncer(p domain.ProviderType) (Syncer, bool) {
	s, ok := r.syncers[p]
	return s, ok
}
