package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"docsync/internal/domain"
	"docsync/internal/observability"
	"docsync/internal/oauth"
	"docsync/internal/store"
	"docsync/internal/util"
)

// TokenRefresher is the OAuth surface the refresh executor calls.
type TokenRefresher interface {
	Refresh(ctx context.Context, provider domain.ProviderType, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresh renews an integration's access token before it expires.
// An invalid_grant answer deactivates the integration: the refresh token
// is dead and only user re-authorization brings it back.
type OAuthRefresh struct {
	Store  TokenStore
	OAuth  TokenRefresher
	Logger *slog.Logger
}

type refreshResult struct {
	ExpiresAt      time.Time `json:"expiresAt"`
	RefreshRotated bool      `json:"refreshRotated"`
}

func (e *OAuthRefresh) Execute(ctx context.Context, job domain.Job, integ domain.Integration) (json.RawMessage, error) {
	if integ.RefreshToken == "" {
		return nil, domain.Terminal(fmt.Errorf("integration %s holds no refresh token", integ.ID))
	}

	tok, err := e.OAuth.Refresh(ctx, integ.Provider, integ.RefreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrUnsupportedProvider) {
			return nil, domain.Terminal(err)
		}
		if oauth.IsInvalidGrant(err) {
			observability.OAuthRefreshes.WithLabelValues(string(integ.Provider), "revoked").Inc()
			return nil, e.revoke(ctx, integ, err)
		}
		// Network failures and 5xx from the token endpoint recover on
		// their own; let backoff handle them.
		observability.OAuthRefreshes.WithLabelValues(string(integ.Provider), "error").Inc()
		return nil, err
	}

	refresh := integ.RefreshToken
	rotated := false
	if tok.RefreshToken != "" {
		refresh = tok.RefreshToken
		rotated = true
	}
	now := util.NowUTC()
	err = e.Store.UpdateIntegrationTokens(ctx, store.TokenUpdate{
		IntegrationID: integ.ID,
		AccessToken:   tok.AccessToken,
		RefreshToken:  refresh,
		Expiry:        tok.Expiry,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	observability.OAuthRefreshes.WithLabelValues(string(integ.Provider), "success").Inc()
	e.Logger.Info("token refreshed",
		"integration_id", integ.ID, "provider", integ.Provider,
		"expires_at", tok.Expiry, "rotated", rotated)
	return json.Marshal(refreshResult{ExpiresAt: tok.Expiry, RefreshRotated: rotated})
}

// revoke soft-disables the integration and records why. The returned
// error is terminal so the job fails without burning retries.
func (e *OAuthRefresh) revoke(ctx context.Context, integ domain.Integration, cause error) error {
	now := util.NowUTC()
	if err := e.Store.DeactivateIntegration(ctx, integ.ID, now); err != nil {
		// Retryable: the revoked integration must not stay active.
		return fmt.Errorf("deactivate integration %s: %w", integ.ID, err)
	}
	audit := e.Store.InsertAuditEntry(ctx, store.AuditInsert{
		IntegrationID: integ.ID,
		UserID:        integ.UserID,
		Event:         domain.AuditIntegrationError,
		Detail:        "refresh token rejected; re-authorization required",
		Now:           now,
	})
	if audit != nil {
		e.Logger.Error("audit write failed", "integration_id", integ.ID, "error", audit)
	}
	e.Logger.Warn("integration deactivated",
		"integration_id", integ.ID, "provider", integ.Provider, "cause", cause)
	return fmt.Errorf("%w: %w", domain.ErrAuthRevoked, cause)
}
