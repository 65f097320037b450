package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"docsync/internal/domain"
	"docsync/internal/providers"
	"docsync/internal/store"
	"docsync/internal/util"
)

// userHeader identifies the caller. Authentication happens at the
// gateway in front of this service; the header arrives pre-verified.
const userHeader = "X-User-ID"

type APIStore interface {
	ListJobs(ctx context.Context, f store.JobFilter) ([]domain.Job, error)
	GetJob(ctx context.Context, jobID string) (domain.Job, bool, error)
	InsertJob(ctx context.Context, in store.JobInsert) error
	GetIntegration(ctx context.Context, id string) (domain.Integration, bool, error)
	UpdateIntegrationTokens(ctx context.Context, in store.TokenUpdate) error
	InsertAuditEntry(ctx context.Context, in store.AuditInsert) error
}

type OAuthExchanger interface {
	Exchange(ctx context.Context, provider domain.ProviderType, code string) (*oauth2.Token, error)
}

type API struct {
	Store    APIStore
	OAuth    OAuthExchanger
	Registry *providers.Registry
	// DashboardURL is where interactive users land after the OAuth dance,
	// with either a ?connected= or ?error= query parameter.
	DashboardURL string
	IDGen        func() string
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/jobs", a.handleListJobs).Methods(http.MethodGet)
	mux.HandleFunc("/v1/jobs", a.handleCreateJob).Methods(http.MethodPost)
	mux.HandleFunc("/v1/jobs/{id}", a.handleGetJob).Methods(http.MethodGet)
	mux.HandleFunc("/v1/oauth/{provider}/callback", a.handleOAuthCallback).Methods(http.MethodGet)
}

// ownedIntegration loads the integration and checks the caller owns it.
// Wrong owner answers the same as absent so ids cannot be probed.
func (a *API) ownedIntegration(w http.ResponseWriter, r *http.Request, id string) (domain.Integration, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, ErrForbidden, http.StatusForbidden)
		return domain.Integration{}, false
	}
	integ, found, err := a.Store.GetIntegration(r.Context(), id)
	if err != nil {
		slog.Error("integration lookup failed", "err", err, "integration_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return domain.Integration{}, false
	}
	if !found || integ.UserID != userID {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return domain.Integration{}, false
	}
	return integ, true
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	integrationID := q.Get("integrationId")
	if integrationID == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	if _, ok := a.ownedIntegration(w, r, integrationID); !ok {
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	jobs, err := a.Store.ListJobs(r.Context(), store.JobFilter{
		IntegrationID: integrationID,
		Status:        domain.JobStatus(q.Get("status")),
		Kind:          domain.JobKind(q.Get("kind")),
		Limit:         limit,
	})
	if err != nil {
		slog.Error("list jobs failed", "err", err, "integration_id", integrationID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jobs)
}

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := a.ownedIntegration(w, r, req.IntegrationID); !ok {
		return
	}

	now := util.NowUTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}
	id := a.IDGen()
	err := a.Store.InsertJob(r.Context(), store.JobInsert{
		ID:            id,
		IntegrationID: req.IntegrationID,
		Kind:          req.Kind,
		Priority:      req.Priority,
		ScheduledAt:   scheduledAt,
		MaxAttempts:   domain.DefaultMaxAttempts,
		Data:          req.Data,
		Now:           now,
	})
	if err != nil {
		slog.Error("create job failed", "err", err, "integration_id", req.IntegrationID, "kind", req.Kind)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          id,
		"status":      domain.JobPending,
		"scheduledAt": scheduledAt,
	})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	job, found, err := a.Store.GetJob(r.Context(), id)
	if err != nil {
		slog.Error("get job failed", "err", err, "job_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	if _, ok := a.ownedIntegration(w, r, job.IntegrationID); !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

// handleOAuthCallback finishes the authorization dance: exchange the
// code, persist tokens, and queue webhook registration plus a
// credential check. state carries the integration id set at redirect
// time. The browser always lands back on the dashboard; failures become
// an ?error= reason code rather than an error page from this service.
func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := domain.ProviderType(mux.Vars(r)["provider"])
	q := r.URL.Query()
	integrationID := q.Get("state")

	if !provider.Valid() {
		a.redirectErr(w, r, "unsupported_provider")
		return
	}
	if q.Get("error") != "" {
		// User declined on the provider's consent screen.
		a.redirectErr(w, r, "access_denied")
		return
	}
	if integrationID == "" || q.Get("code") == "" {
		a.redirectErr(w, r, "bad_callback")
		return
	}

	integ, found, err := a.Store.GetIntegration(r.Context(), integrationID)
	if err != nil {
		slog.Error("integration lookup failed", "err", err, "integration_id", integrationID)
		a.redirectErr(w, r, "internal")
		return
	}
	if !found || integ.Provider != provider {
		a.redirectErr(w, r, "unknown_integration")
		return
	}

	tok, err := a.OAuth.Exchange(r.Context(), provider, q.Get("code"))
	if err != nil {
		slog.Error("oauth exchange failed", "err", err, "integration_id", integrationID, "provider", provider)
		a.audit(r.Context(), integ, domain.AuditIntegrationError, "authorization code exchange failed")
		a.redirectErr(w, r, "exchange_failed")
		return
	}

	now := util.NowUTC()
	expiry := tok.Expiry
	if expiry.IsZero() {
		// Provider issued a token without expires_in (long-lived).
		expiry = now.Add(time.Hour)
	}
	err = a.Store.UpdateIntegrationTokens(r.Context(), store.TokenUpdate{
		IntegrationID: integ.ID,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		Expiry:        expiry,
		Now:           now,
	})
	if err != nil {
		slog.Error("token persist failed", "err", err, "integration_id", integ.ID)
		a.redirectErr(w, r, "internal")
		return
	}

	a.audit(r.Context(), integ, domain.AuditAuthorizationGranted, "oauth tokens stored")
	a.queueJob(r.Context(), integ.ID, domain.KindTestConnection, now)
	if _, ok := a.Registry.Registrar(provider); ok {
		a.queueJob(r.Context(), integ.ID, domain.KindWebhookSetup, now)
	}

	http.Redirect(w, r, a.DashboardURL+"?connected="+url.QueryEscape(string(provider)), http.StatusFound)
}

func (a *API) redirectErr(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, a.DashboardURL+"?error="+url.QueryEscape(reason), http.StatusFound)
}

func (a *API) queueJob(ctx context.Context, integrationID string, kind domain.JobKind, now time.Time) {
	err := a.Store.InsertJob(ctx, store.JobInsert{
		ID:            a.IDGen(),
		IntegrationID: integrationID,
		Kind:          kind,
		ScheduledAt:   now,
		MaxAttempts:   domain.DefaultMaxAttempts,
		Now:           now,
	})
	if err != nil {
		slog.Error("queue job failed", "err", err, "integration_id", integrationID, "kind", kind)
	}
}

func (a *API) audit(ctx context.Context, integ domain.Integration, event, detail string) {
	err := a.Store.InsertAuditEntry(ctx, store.AuditInsert{
		IntegrationID: integ.ID,
		UserID:        integ.UserID,
		Event:         event,
		Detail:        detail,
		Now:           util.NowUTC(),
	})
	if err != nil {
		slog.Error("audit write failed", "err", err, "integration_id", integ.ID, "event", event)
	}
}
