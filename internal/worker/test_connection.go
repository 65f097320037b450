package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

// TestConnection validates stored credentials with a read-only
// provider call and records the identity they authenticate as.
type TestConnection struct {
	Registry *providers.Registry
	Logger   *slog.Logger
}

func (e *TestConnection) Execute(ctx context.Context, job domain.Job, integ domain.Integration) (json.RawMessage, error) {
	tester, ok := e.Registry.Tester(integ.Provider)
	if !ok {
		return nil, domain.Terminal(fmt.Errorf("provider %s has no connection test", integ.Provider))
	}
	identity, err := tester.TestConnection(ctx, integ)
	if err != nil {
		return nil, classify(err)
	}
	e.Logger.Info("connection verified",
		"integration_id", integ.ID, "provider", integ.Provider, "identity", identity)
	return json.Marshal(map[string]string{"identity": identity})
}
