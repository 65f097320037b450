// Package oauth exchanges authorization codes and refreshes expiring
// access tokens. It is the only component that mutates integration token
// fields.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"docsync/internal/config"
	"docsync/internal/domain"
)

var ErrUnsupportedProvider = errors.New("provider has no oauth configuration")

type Manager struct {
	configs map[domain.ProviderType]*oauth2.Config
	timeout time.Duration
	http    *http.Client
}

func NewManager(cfg config.ProviderConfig) *Manager {
	googleCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.readonly"},
	}
	if cfg.GoogleTokenURL != "" {
		googleCfg.Endpoint = oauth2.Endpoint{TokenURL: cfg.GoogleTokenURL}
	}

	dropboxCfg := &oauth2.Config{
		ClientID:     cfg.DropboxClientID,
		ClientSecret: cfg.DropboxClientSecret,
		RedirectURL:  cfg.DropboxRedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.dropbox.com/oauth2/authorize",
			TokenURL: cfg.DropboxTokenURL,
		},
	}

	return &Manager{
		configs: map[domain.ProviderType]*oauth2.Config{
			domain.ProviderGDrive:  googleCfg,
			domain.ProviderDropbox: dropboxCfg,
		},
		timeout: cfg.CallTimeout,
		http:    &http.Client{Timeout: cfg.CallTimeout},
	}
}

func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	return ctx, func() {}
}

// Exchange trades an authorization code for tokens (grant_type=authorization_code).
func (m *Manager) Exchange(ctx context.Context, provider domain.ProviderType, code string) (*oauth2.Token, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	ctx, cancel := m.callCtx(ctx)
	defer cancel()
	return cfg.Exchange(ctx, code)
}

// Refresh trades a refresh token for a fresh access token
// (grant_type=refresh_token). The returned token carries a RefreshToken
// only when the provider rotated it.
func (m *Manager) Refresh(ctx context.Context, provider domain.ProviderType, refreshToken string) (*oauth2.Token, error) {
	cfg, ok := m.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	ctx, cancel := m.callCtx(ctx)
	defer cancel()
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == refreshToken {
		// Provider echoed the old token back; not a rotation.
		tok.RefreshToken = ""
	}
	return tok, nil
}

// IsInvalidGrant reports whether the provider rejected the refresh token
// itself. Retrying cannot fix it; the user must re-authorize.
func IsInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
		return strings.Contains(string(re.Body), "invalid_grant")
	}
	return false
}

// IsRetrievalFailure reports whether the token endpoint answered at all.
// Network-level failures come back as plain URL errors and stay retryable.
func IsRetrievalFailure(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}
