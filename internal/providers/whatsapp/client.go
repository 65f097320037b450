// Package whatsapp integrates the WhatsApp Cloud API as a document
// source. Deliveries arrive signed with the Meta app secret; media is
// fetched with the integration's access token.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

// SignatureHeader carries the hub-style HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Hub-Signature-256"

type Client struct {
	BaseURL string
	// AppSecret signs webhook deliveries. It is deployment-level: one Meta
	// app serves every connected phone number.
	AppSecret   string
	VerifyToken string
	HTTP        *providers.HTTPClient
}

func NewClient(baseURL, appSecret, verifyToken string, httpc *providers.HTTPClient) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AppSecret:   appSecret,
		VerifyToken: verifyToken,
		HTTP:        httpc,
	}
}

func (c *Client) VerifySignature(_ domain.Integration, header http.Header, body []byte) bool {
	return providers.ValidHubSignature(c.AppSecret, body, header.Get(SignatureHeader))
}

// VerifyChallenge implements the GET handshake: echo the challenge when
// the verify token matches.
func (c *Client) VerifyChallenge(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || c.VerifyToken == "" {
		return "", false
	}
	if !providers.SecureEqual(c.VerifyToken, token) {
		return "", false
	}
	return challenge, true
}

type media struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	FileSize int64  `json:"file_size"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Document *media `json:"document"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Audio    *media `json:"audio"`
}

type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParsePayload flattens a delivery into one InboundMessage per provider
// message. Status-only deliveries parse to zero messages.
func (c *Client) ParsePayload(body []byte) ([]domain.InboundMessage, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("whatsapp payload: %w", err)
	}

	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			channelKey := change.Value.Metadata.PhoneNumberID
			for _, m := range change.Value.Messages {
				msg := domain.InboundMessage{
					Provider:   domain.ProviderWhatsApp,
					ChannelKey: channelKey,
					MessageID:  m.ID,
					SenderID:   m.From,
				}
				if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					msg.Timestamp = time.Unix(ts, 0).UTC()
				}
				if m.Text != nil {
					msg.Text = m.Text.Body
				}
				for _, md := range []*media{m.Document, m.Image, m.Video, m.Audio} {
					if md == nil {
						continue
					}
					msg.Attachments = append(msg.Attachments, domain.Attachment{
						Handle:   md.ID,
						Name:     md.Filename,
						MIMEHint: md.MimeType,
						SizeHint: md.FileSize,
						Caption:  md.Caption,
					})
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func (c *Client) accessToken(integ domain.Integration) (string, error) {
	if integ.AccessToken == "" {
		return "", domain.Terminal(errors.New("whatsapp integration missing access token"))
	}
	return integ.AccessToken, nil
}

func (c *Client) getJSON(ctx context.Context, token, rawURL, op string, out any) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	status, body, err := c.HTTP.DoRead(ctx, req, "whatsapp", op)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &providers.StatusError{Provider: "whatsapp", Op: op, Status: status, Body: string(body)}
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// FetchAttachment is two calls: a media-id lookup returning a short-lived
// URL plus MIME type, then the authenticated binary download.
func (c *Client) FetchAttachment(ctx context.Context, integ domain.Integration, att domain.Attachment) (domain.MediaFile, error) {
	token, err := c.accessToken(integ)
	if err != nil {
		return domain.MediaFile{}, err
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	}
	if err := c.getJSON(ctx, token, c.BaseURL+"/"+att.Handle, "media_lookup", &meta); err != nil {
		return domain.MediaFile{}, fmt.Errorf("media lookup %s: %w", att.Handle, err)
	}
	if meta.URL == "" {
		return domain.MediaFile{}, fmt.Errorf("media lookup %s: empty url", att.Handle)
	}

	req, err := http.NewRequest(http.MethodGet, meta.URL, nil)
	if err != nil {
		return domain.MediaFile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	status, data, err := c.HTTP.DoRead(ctx, req, "whatsapp", "media_download")
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("media download %s: %w", att.Handle, err)
	}
	if status != http.StatusOK {
		return domain.MediaFile{}, &providers.StatusError{Provider: "whatsapp", Op: "media_download", Status: status, Body: ""}
	}

	name := att.Name
	if name == "" {
		name = "whatsapp_" + att.Handle
	}
	mime := meta.MimeType
	if mime == "" {
		mime = att.MIMEHint
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return domain.MediaFile{Name: name, MIME: mime, Data: data}, nil
}

// RegisterWebhook subscribes the app to the integration's phone number.
// The Graph API answers success for repeat subscriptions.
func (c *Client) RegisterWebhook(ctx context.Context, integ domain.Integration, _ string) error {
	token, err := c.accessToken(integ)
	if err != nil {
		return err
	}
	if integ.ChannelKey == "" {
		return domain.Terminal(errors.New("whatsapp integration missing phone-number id"))
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/"+integ.ChannelKey+"/subscribed_apps", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	status, body, err := c.HTTP.DoRead(ctx, req, "whatsapp", "subscribed_apps")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &providers.StatusError{Provider: "whatsapp", Op: "subscribed_apps", Status: status, Body: string(body)}
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &res); err != nil || !res.Success {
		return fmt.Errorf("subscribed_apps: unexpected response %q", string(body))
	}
	return nil
}

// TestConnection reads the phone number object, a side-effect-free
// credential probe.
func (c *Client) TestConnection(ctx context.Context, integ domain.Integration) (string, error) {
	token, err := c.accessToken(integ)
	if err != nil {
		return "", err
	}
	if integ.ChannelKey == "" {
		return "", domain.Terminal(errors.New("whatsapp integration missing phone-number id"))
	}
	var out struct {
		VerifiedName       string `json:"verified_name"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	}
	if err := c.getJSON(ctx, token, c.BaseURL+"/"+integ.ChannelKey+"?fields=verified_name,display_phone_number", "phone_number", &out); err != nil {
		return "", err
	}
	if out.VerifiedName != "" {
		return out.VerifiedName, nil
	}
	return out.DisplayPhoneNumber, nil
}
