package httpserver

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/domain"
	"docsync/internal/ingest"
	"docsync/internal/providers/whatsapp"
)

// Webhook exposes the inbound delivery endpoints, one per channel
// provider. Handlers read the raw body once (the signature covers the
// exact bytes) and hand it to the ingestion pipeline.
type Webhook struct {
	Pipeline *ingest.Pipeline
	WhatsApp *whatsapp.Client
	// MaxBodyBytes rejects oversized deliveries before they are read.
	MaxBodyBytes int64
}

func (w *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/telegram/{integrationID}", w.handleTelegram).Methods(http.MethodPost)
	mux.HandleFunc("/v1/webhooks/whatsapp", w.handleWhatsAppVerify).Methods(http.MethodGet)
	mux.HandleFunc("/v1/webhooks/whatsapp", w.handleWhatsApp).Methods(http.MethodPost)
}

func (w *Webhook) readBody(rw http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body := r.Body
	if w.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(rw, r.Body, w.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(rw, ErrBadBody, http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

// Telegram has no payload-level channel routing usable before
// verification, so the registered webhook URL carries the integration id.
func (w *Webhook) handleTelegram(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["integrationID"]
	if id == "" {
		http.Error(rw, ErrMissingID, http.StatusBadRequest)
		return
	}
	body, ok := w.readBody(rw, r)
	if !ok {
		return
	}
	status := w.Pipeline.Process(r.Context(), ingest.Delivery{
		Provider:        domain.ProviderTelegram,
		IntegrationHint: id,
		Header:          r.Header,
		Body:            body,
	})
	respond(rw, status)
}

// handleWhatsAppVerify answers Meta's subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (w *Webhook) handleWhatsAppVerify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := w.WhatsApp.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		http.Error(rw, ErrInvalidSignature, http.StatusForbidden)
		return
	}
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(challenge))
}

func (w *Webhook) handleWhatsApp(rw http.ResponseWriter, r *http.Request) {
	body, ok := w.readBody(rw, r)
	if !ok {
		return
	}
	status := w.Pipeline.Process(r.Context(), ingest.Delivery{
		Provider: domain.ProviderWhatsApp,
		Header:   r.Header,
		Body:     body,
	})
	respond(rw, status)
}

func respond(rw http.ResponseWriter, status int) {
	switch status {
	case http.StatusOK:
		rw.WriteHeader(http.StatusOK)
	case http.StatusUnauthorized:
		http.Error(rw, ErrInvalidSignature, status)
	case http.StatusBadRequest:
		http.Error(rw, ErrBadBody, status)
	case http.StatusNotFound:
		http.Error(rw, ErrUnknownProvider, status)
	default:
		http.Error(rw, ErrDependency, status)
	}
}
