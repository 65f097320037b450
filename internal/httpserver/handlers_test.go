package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"docsync/internal/domain"
	"docsync/internal/providers"
	"docsync/internal/store"
	"docsync/internal/util"
)

type fakeAPIStore struct {
	integrations map[string]domain.Integration
	jobs         map[string]domain.Job
	inserted     []store.JobInsert
	tokenUpdates []store.TokenUpdate
	audits       []store.AuditInsert
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		integrations: map[string]domain.Integration{},
		jobs:         map[string]domain.Job{},
	}
}

func (f *fakeAPIStore) ListJobs(_ context.Context, flt store.JobFilter) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range f.jobs {
		if flt.IntegrationID != "" && j.IntegrationID != flt.IntegrationID {
			continue
		}
		if flt.Status != "" && j.Status != flt.Status {
			continue
		}
		if flt.Kind != "" && j.Kind != flt.Kind {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeAPIStore) GetJob(_ context.Context, jobID string) (domain.Job, bool, error) {
	j, ok := f.jobs[jobID]
	return j, ok, nil
}

func (f *fakeAPIStore) InsertJob(_ context.Context, in store.JobInsert) error {
	f.inserted = append(f.inserted, in)
	f.jobs[in.ID] = domain.Job{
		ID: in.ID, IntegrationID: in.IntegrationID, Kind: in.Kind,
		Status: domain.JobPending, ScheduledAt: in.ScheduledAt,
	}
	return nil
}

func (f *fakeAPIStore) GetIntegration(_ context.Context, id string) (domain.Integration, bool, error) {
	in, ok := f.integrations[id]
	return in, ok, nil
}

func (f *fakeAPIStore) UpdateIntegrationTokens(_ context.Context, in store.TokenUpdate) error {
	f.tokenUpdates = append(f.tokenUpdates, in)
	return nil
}

func (f *fakeAPIStore) InsertAuditEntry(_ context.Context, in store.AuditInsert) error {
	f.audits = append(f.audits, in)
	return nil
}

type fakeExchanger struct {
	tok *oauth2.Token
	err error
}

func (f *fakeExchanger) Exchange(_ context.Context, _ domain.ProviderType, _ string) (*oauth2.Token, error) {
	return f.tok, f.err
}

type noopRegistrar struct{}

func (noopRegistrar) RegisterWebhook(_ context.Context, _ domain.Integration, _ string) error {
	return nil
}

func newTestAPI(fs *fakeAPIStore, ex OAuthExchanger) *httptest.Server {
	reg := providers.NewRegistry()
	reg.Register(domain.ProviderWhatsApp, noopRegistrar{})

	srv := New()
	api := &API{
		Store:        fs,
		OAuth:        ex,
		Registry:     reg,
		DashboardURL: "https://app.example.com/settings",
		IDGen:        util.NewJobID,
	}
	api.Register(srv.Mux)
	return httptest.NewServer(srv.Mux)
}

func ownedInteg(id, userID string, p domain.ProviderType) domain.Integration {
	return domain.Integration{ID: id, UserID: userID, Provider: p, Active: true}
}

func TestCreateJobRequiresOwnership(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	ts := newTestAPI(fs, &fakeExchanger{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs",
		strings.NewReader(`{"integrationId":"int_1","kind":"sync"}`))
	req.Header.Set(userHeader, "intruder")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign integration", resp.StatusCode)
	}
	if len(fs.inserted) != 0 {
		t.Fatalf("job inserted despite ownership failure")
	}
}

func TestCreateJobAccepted(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	ts := newTestAPI(fs, &fakeExchanger{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs",
		strings.NewReader(`{"integrationId":"int_1","kind":"sync","priority":2}`))
	req.Header.Set(userHeader, "owner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("inserted = %d", len(fs.inserted))
	}
	in := fs.inserted[0]
	if in.Kind != domain.KindSync || in.Priority != 2 || in.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("insert = %+v", in)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] == "" {
		t.Fatalf("response missing job id")
	}
}

func TestCreateJobUnknownKindIs400(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	ts := newTestAPI(fs, &fakeExchanger{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs",
		strings.NewReader(`{"integrationId":"int_1","kind":"reindex"}`))
	req.Header.Set(userHeader, "owner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	fs.jobs["job_a"] = domain.Job{ID: "job_a", IntegrationID: "int_1", Kind: domain.KindSync, Status: domain.JobFailed}
	fs.jobs["job_b"] = domain.Job{ID: "job_b", IntegrationID: "int_1", Kind: domain.KindSync, Status: domain.JobCompleted}
	ts := newTestAPI(fs, &fakeExchanger{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/jobs?integrationId=int_1&status=failed", nil)
	req.Header.Set(userHeader, "owner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var jobs []domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job_a" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestOAuthCallbackStoresTokensAndQueuesJobs(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderWhatsApp)
	ts := newTestAPI(fs, &fakeExchanger{tok: &oauth2.Token{
		AccessToken: "acc", RefreshToken: "ref",
	}})
	defer ts.Close()

	resp, err := noRedirectClient().Get(ts.URL + "/v1/oauth/whatsapp/callback?code=abc&state=int_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.Contains(loc, "connected=whatsapp") {
		t.Fatalf("location = %q", loc)
	}
	if len(fs.tokenUpdates) != 1 || fs.tokenUpdates[0].AccessToken != "acc" {
		t.Fatalf("token updates = %+v", fs.tokenUpdates)
	}
	kinds := map[domain.JobKind]bool{}
	for _, in := range fs.inserted {
		kinds[in.Kind] = true
	}
	if !kinds[domain.KindTestConnection] || !kinds[domain.KindWebhookSetup] {
		t.Fatalf("queued kinds = %v", kinds)
	}
	if len(fs.audits) != 1 || fs.audits[0].Event != domain.AuditAuthorizationGranted {
		t.Fatalf("audits = %+v", fs.audits)
	}
}

func TestOAuthCallbackSkipsWebhookSetupForPullProviders(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	ts := newTestAPI(fs, &fakeExchanger{tok: &oauth2.Token{AccessToken: "acc"}})
	defer ts.Close()

	resp, err := noRedirectClient().Get(ts.URL + "/v1/oauth/gdrive/callback?code=abc&state=int_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	for _, in := range fs.inserted {
		if in.Kind == domain.KindWebhookSetup {
			t.Fatalf("webhook setup queued for provider without webhooks")
		}
	}
}

func TestOAuthCallbackExchangeFailureRedirectsWithReason(t *testing.T) {
	fs := newFakeAPIStore()
	fs.integrations["int_1"] = ownedInteg("int_1", "owner", domain.ProviderGDrive)
	ts := newTestAPI(fs, &fakeExchanger{err: errors.New("token endpoint said no")})
	defer ts.Close()

	resp, err := noRedirectClient().Get(ts.URL + "/v1/oauth/gdrive/callback?code=abc&state=int_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "error=exchange_failed") {
		t.Fatalf("location = %q", loc)
	}
	if len(fs.tokenUpdates) != 0 {
		t.Fatalf("tokens stored despite failed exchange")
	}
	if len(fs.audits) != 1 || fs.audits[0].Event != domain.AuditIntegrationError {
		t.Fatalf("audits = %+v", fs.audits)
	}
}

func TestOAuthCallbackUserDenied(t *testing.T) {
	fs := newFakeAPIStore()
	ts := newTestAPI(fs, &fakeExchanger{})
	defer ts.Close()

	resp, err := noRedirectClient().Get(ts.URL + "/v1/oauth/gdrive/callback?error=access_denied&state=int_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "error=access_denied") {
		t.Fatalf("location = %q", loc)
	}
}
