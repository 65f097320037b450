package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

// WebhookSetup registers this deployment's public URL with the provider.
// Providers answer success for an unchanged URL, so re-running is safe.
type WebhookSetup struct {
	Registry  *providers.Registry
	PublicURL string
	Logger    *slog.Logger
}

func (e *WebhookSetup) Execute(ctx context.Context, job domain.Job, integ domain.Integration) (json.RawMessage, error) {
	registrar, ok := e.Registry.Registrar(integ.Provider)
	if !ok {
		return nil, domain.Terminal(fmt.Errorf("provider %s does not deliver webhooks", integ.Provider))
	}
	if err := registrar.RegisterWebhook(ctx, integ, e.PublicURL); err != nil {
		return nil, classify(err)
	}
	e.Logger.Info("webhook registered", "integration_id", integ.ID, "provider", integ.Provider)
	return json.Marshal(map[string]bool{"registered": true})
}
