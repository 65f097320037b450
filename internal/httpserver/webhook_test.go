package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docsync/internal/domain"
	"docsync/internal/ingest"
	"docsync/internal/providers"
	"docsync/internal/providers/whatsapp"
	sqsqueue "docsync/internal/queue/sqs"
	"docsync/internal/store"
)

type stubChannel struct {
	verifyOK bool
	messages []domain.InboundMessage
}

func (s *stubChannel) VerifySignature(_ domain.Integration, _ http.Header, _ []byte) bool {
	return s.verifyOK
}

func (s *stubChannel) ParsePayload(_ []byte) ([]domain.InboundMessage, error) {
	return s.messages, nil
}

func (s *stubChannel) FetchAttachment(_ context.Context, _ domain.Integration, att domain.Attachment) (domain.MediaFile, error) {
	return domain.MediaFile{Name: att.Name, MIME: "application/pdf", Data: []byte("x")}, nil
}

type stubStore struct {
	integrations map[string]domain.Integration
}

func (s *stubStore) GetIntegration(_ context.Context, id string) (domain.Integration, bool, error) {
	in, ok := s.integrations[id]
	return in, ok, nil
}

func (s *stubStore) FindIntegrationByChannelKey(_ context.Context, _ domain.ProviderType, _ string) (domain.Integration, bool, error) {
	return domain.Integration{}, false, nil
}

func (s *stubStore) ClaimInboundAttachment(_ context.Context, _ store.ReceiptClaim) (bool, error) {
	return true, nil
}

func (s *stubStore) TouchLastSynced(_ context.Context, _ string, _, _ time.Time) error {
	return nil
}

func (s *stubStore) InsertAuditEntry(_ context.Context, _ store.AuditInsert) error {
	return nil
}

type stubDocs struct{ created int }

func (s *stubDocs) Create(_ context.Context, _ domain.DocumentRequest) (string, error) {
	s.created++
	return fmt.Sprintf("doc_%d", s.created), nil
}

type stubEvents struct{}

func (stubEvents) PublishDocumentEvent(_ context.Context, _ sqsqueue.DocumentEvent) error {
	return nil
}

func testWebhookServer(t *testing.T, ch providers.Channel, maxBody int64) (*httptest.Server, *stubDocs) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register(domain.ProviderTelegram, ch)

	docs := &stubDocs{}
	pipeline := &ingest.Pipeline{
		Store: &stubStore{integrations: map[string]domain.Integration{
			"int_1": {ID: "int_1", UserID: "u1", Provider: domain.ProviderTelegram, Active: true},
		}},
		Registry:  reg,
		Documents: docs,
		Events:    stubEvents{},
		Logger:    slog.Default(),
	}

	srv := New()
	wh := &Webhook{
		Pipeline:     pipeline,
		WhatsApp:     &whatsapp.Client{VerifyToken: "verify-token"},
		MaxBodyBytes: maxBody,
	}
	wh.Register(srv.Mux)
	ts := httptest.NewServer(srv.Mux)
	t.Cleanup(ts.Close)
	return ts, docs
}

func TestTelegramDeliveryAccepted(t *testing.T) {
	ch := &stubChannel{verifyOK: true, messages: []domain.InboundMessage{{
		Provider: domain.ProviderTelegram, MessageID: "m1",
		Attachments: []domain.Attachment{{Handle: "a1", Name: "f.pdf"}},
	}}}
	ts, docs := testWebhookServer(t, ch, 1<<20)

	resp, err := http.Post(ts.URL+"/v1/webhooks/telegram/int_1", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if docs.created != 1 {
		t.Fatalf("documents = %d", docs.created)
	}
}

func TestTelegramBadSignatureIs401(t *testing.T) {
	ts, docs := testWebhookServer(t, &stubChannel{verifyOK: false}, 1<<20)

	resp, err := http.Post(ts.URL+"/v1/webhooks/telegram/int_1", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if docs.created != 0 {
		t.Fatalf("documents created despite 401")
	}
}

func TestOversizedBodyIs400(t *testing.T) {
	ts, _ := testWebhookServer(t, &stubChannel{verifyOK: true}, 16)

	big := bytes.Repeat([]byte("a"), 64)
	resp, err := http.Post(ts.URL+"/v1/webhooks/telegram/int_1", "application/json", bytes.NewReader(big))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWhatsAppChallengeHandshake(t *testing.T) {
	ts, _ := testWebhookServer(t, &stubChannel{}, 1<<20)

	resp, err := http.Get(ts.URL + "/v1/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=echo-me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 32)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != "echo-me" {
		t.Fatalf("challenge echo = %q", got)
	}
}

func TestWhatsAppChallengeWrongTokenIs403(t *testing.T) {
	ts, _ := testWebhookServer(t, &stubChannel{}, 1<<20)

	resp, err := http.Get(ts.URL + "/v1/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=echo-me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
