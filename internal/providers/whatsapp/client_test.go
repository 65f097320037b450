package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "app-secret", "verify-token",
		providers.NewHTTPClient("whatsapp", 5*time.Second, 100, 100))
}

func waIntegration() domain.Integration {
	return domain.Integration{
		ID: "int_1", UserID: "u1", Provider: domain.ProviderWhatsApp,
		ChannelKey: "phone-1", AccessToken: "wa-token", Active: true,
	}
}

func TestVerifySignature(t *testing.T) {
	c := &Client{AppSecret: "app-secret"}
	body := []byte(`{"object":"whatsapp_business_account"}`)

	h := http.Header{}
	h.Set(SignatureHeader, sign("app-secret", body))
	if !c.VerifySignature(domain.Integration{}, h, body) {
		t.Fatalf("valid signature rejected")
	}

	h.Set(SignatureHeader, sign("wrong-secret", body))
	if c.VerifySignature(domain.Integration{}, h, body) {
		t.Fatalf("forged signature accepted")
	}

	h.Del(SignatureHeader)
	if c.VerifySignature(domain.Integration{}, h, body) {
		t.Fatalf("missing signature accepted")
	}
}

func TestVerifyChallenge(t *testing.T) {
	c := &Client{VerifyToken: "verify-token"}

	echo, ok := c.VerifyChallenge("subscribe", "verify-token", "challenge-123")
	if !ok || echo != "challenge-123" {
		t.Fatalf("handshake failed: %q %v", echo, ok)
	}
	if _, ok := c.VerifyChallenge("subscribe", "wrong", "challenge-123"); ok {
		t.Fatalf("wrong verify token accepted")
	}
	if _, ok := c.VerifyChallenge("unsubscribe", "verify-token", "challenge-123"); ok {
		t.Fatalf("wrong mode accepted")
	}
}

func TestParsePayloadDocumentMessage(t *testing.T) {
	c := &Client{}
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "phone-1"},
				"messages": [{
					"from": "15551234567",
					"id": "wamid.abc",
					"timestamp": "1700000000",
					"type": "document",
					"document": {"id": "media-1", "filename": "invoice.pdf", "mime_type": "application/pdf", "caption": "march"}
				}]
			}
		}]}]
	}`)
	msgs, err := c.ParsePayload(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	m := msgs[0]
	if m.ChannelKey != "phone-1" || m.MessageID != "wamid.abc" || m.SenderID != "15551234567" {
		t.Fatalf("message = %+v", m)
	}
	if len(m.Attachments) != 1 || m.Attachments[0].Handle != "media-1" {
		t.Fatalf("attachments = %+v", m.Attachments)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("timestamp not parsed")
	}
}

func TestParsePayloadStatusDeliveryIsEmpty(t *testing.T) {
	c := &Client{}
	msgs, err := c.ParsePayload([]byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "message_template_status_update", "value": {}}]}]
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected zero messages, got %d", len(msgs))
	}
}

func TestFetchAttachment(t *testing.T) {
	var c *Client
	mux := http.NewServeMux()
	mux.HandleFunc("/media-1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer wa-token" {
			t.Fatalf("auth header = %q", got)
		}
		_, _ = w.Write([]byte(`{"url":"` + c.BaseURL + `/download/media-1","mime_type":"application/pdf"}`))
	})
	mux.HandleFunc("/download/media-1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer wa-token" {
			t.Fatalf("download auth header = %q", got)
		}
		_, _ = w.Write([]byte("pdf-bytes"))
	})
	c = testClient(t, mux)

	media, err := c.FetchAttachment(context.Background(), waIntegration(), domain.Attachment{Handle: "media-1", Name: "invoice.pdf"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if media.Name != "invoice.pdf" || media.MIME != "application/pdf" || string(media.Data) != "pdf-bytes" {
		t.Fatalf("media = %+v", media)
	}
}

func TestFetchAttachmentMissingToken(t *testing.T) {
	c := &Client{}
	integ := waIntegration()
	integ.AccessToken = ""
	_, err := c.FetchAttachment(context.Background(), integ, domain.Attachment{Handle: "x"})
	if !domain.IsTerminal(err) {
		t.Fatalf("missing access token must be terminal, got %v", err)
	}
}

func TestRegisterWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/phone-1/subscribed_apps", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	c := testClient(t, mux)

	if err := c.RegisterWebhook(context.Background(), waIntegration(), "https://hooks.example.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/phone-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"verified_name":"Acme Corp","display_phone_number":"+1 555 123 4567"}`))
	})
	c := testClient(t, mux)

	identity, err := c.TestConnection(context.Background(), waIntegration())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if identity != "Acme Corp" {
		t.Fatalf("identity = %q", identity)
	}
}
