// Package telegram integrates a Telegram bot as a document source.
// Users drop files into a chat; the bot's webhook delivers them here.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

// SignatureHeader carries the secret token Telegram echoes back on every
// delivery when the webhook was registered with one.
const SignatureHeader = "X-Telegram-Bot-Api-Secret-Token"

// Integration settings keys.
const (
	settingBotToken      = "bot_token"
	settingWebhookSecret = "webhook_secret"
)

type Client struct {
	BaseURL string
	HTTP    *providers.HTTPClient
}

func NewClient(baseURL string, httpc *providers.HTTPClient) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpc}
}

// VerifySignature compares the delivery's secret-token header against the
// integration's webhook secret in constant time. Telegram does not sign
// the body; the shared secret in the header is the authenticity proof.
func (c *Client) VerifySignature(integ domain.Integration, header http.Header, _ []byte) bool {
	secret := integ.Setting(settingWebhookSecret)
	if secret == "" {
		return false
	}
	return providers.SecureEqual(secret, header.Get(SignatureHeader))
}

type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	From      *struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Date     int64       `json:"date"`
	Text     string      `json:"text"`
	Caption  string      `json:"caption"`
	Document *document   `json:"document"`
	Photo    []photoSize `json:"photo"`
	Video    *video      `json:"video"`
	Audio    *audio      `json:"audio"`
}

type document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type photoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type video struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type audio struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// ParsePayload decodes one bot update. Updates without a message (edits,
// callback queries) parse to zero messages and are acknowledged upstream.
func (c *Client) ParsePayload(body []byte) ([]domain.InboundMessage, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("telegram update: %w", err)
	}
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil {
		return nil, nil
	}

	out := domain.InboundMessage{
		Provider:   domain.ProviderTelegram,
		ChannelKey: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:  strconv.FormatInt(msg.MessageID, 10),
		Timestamp:  time.Unix(msg.Date, 0).UTC(),
		Text:       msg.Text,
	}
	if msg.From != nil {
		out.SenderID = strconv.FormatInt(msg.From.ID, 10)
	}

	if d := msg.Document; d != nil {
		out.Attachments = append(out.Attachments, domain.Attachment{
			Handle:   d.FileID,
			Name:     d.FileName,
			MIMEHint: d.MimeType,
			SizeHint: d.FileSize,
			Caption:  msg.Caption,
		})
	}
	if len(msg.Photo) > 0 {
		// Telegram sends every thumbnail size; the last entry is the original.
		p := msg.Photo[len(msg.Photo)-1]
		out.Attachments = append(out.Attachments, domain.Attachment{
			Handle:   p.FileID,
			MIMEHint: "image/jpeg",
			SizeHint: p.FileSize,
			Caption:  msg.Caption,
		})
	}
	if v := msg.Video; v != nil {
		out.Attachments = append(out.Attachments, domain.Attachment{
			Handle:   v.FileID,
			Name:     v.FileName,
			MIMEHint: v.MimeType,
			SizeHint: v.FileSize,
			Caption:  msg.Caption,
		})
	}
	if a := msg.Audio; a != nil {
		out.Attachments = append(out.Attachments, domain.Attachment{
			Handle:   a.FileID,
			Name:     a.FileName,
			MIMEHint: a.MimeType,
			SizeHint: a.FileSize,
			Caption:  msg.Caption,
		})
	}

	return []domain.InboundMessage{out}, nil
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, token, method string, params url.Values, out any) error {
	endpoint := c.BaseURL + "/bot" + token + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	status, body, err := c.HTTP.DoRead(ctx, req, "telegram", method)
	if err != nil {
		return err
	}
	var env apiEnvelope
	if jerr := json.Unmarshal(body, &env); jerr != nil {
		return &providers.StatusError{Provider: "telegram", Op: method, Status: status, Body: string(body)}
	}
	if !env.OK {
		return &providers.StatusError{Provider: "telegram", Op: method, Status: status, Body: env.Description}
	}
	if out != nil {
		return json.Unmarshal(env.Result, out)
	}
	return nil
}

func (c *Client) botToken(integ domain.Integration) (string, error) {
	token := integ.Setting(settingBotToken)
	if token == "" {
		return "", domain.Terminal(errors.New("telegram integration missing bot_token setting"))
	}
	return token, nil
}

// FetchAttachment resolves a file id via getFile, then downloads the
// binary from the file path Telegram returns.
func (c *Client) FetchAttachment(ctx context.Context, integ domain.Integration, att domain.Attachment) (domain.MediaFile, error) {
	token, err := c.botToken(integ)
	if err != nil {
		return domain.MediaFile{}, err
	}

	params := url.Values{}
	params.Set("file_id", att.Handle)
	var file struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, token, "getFile", params, &file); err != nil {
		return domain.MediaFile{}, fmt.Errorf("getFile %s: %w", att.Handle, err)
	}
	if file.FilePath == "" {
		return domain.MediaFile{}, fmt.Errorf("getFile %s: empty file_path", att.Handle)
	}

	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/file/bot"+token+"/"+file.FilePath, nil)
	if err != nil {
		return domain.MediaFile{}, err
	}
	status, data, err := c.HTTP.DoRead(ctx, req, "telegram", "download")
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("download %s: %w", att.Handle, err)
	}
	if status != http.StatusOK {
		return domain.MediaFile{}, &providers.StatusError{Provider: "telegram", Op: "download", Status: status, Body: ""}
	}

	name := att.Name
	if name == "" {
		name = path.Base(file.FilePath)
	}
	mime := att.MIMEHint
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return domain.MediaFile{Name: name, MIME: mime, Data: data}, nil
}

// RegisterWebhook points the bot at this deployment. Telegram answers
// ok=true when the URL is unchanged, so repeats are safe.
func (c *Client) RegisterWebhook(ctx context.Context, integ domain.Integration, publicURL string) error {
	token, err := c.botToken(integ)
	if err != nil {
		return err
	}
	hookURL := strings.TrimRight(publicURL, "/") + "/v1/webhooks/telegram/" + integ.ID

	params := url.Values{}
	params.Set("url", hookURL)
	if secret := integ.Setting(settingWebhookSecret); secret != "" {
		params.Set("secret_token", secret)
	}
	if err := c.call(ctx, token, "setWebhook", params, nil); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

// TestConnection is a read-only getMe credential probe.
func (c *Client) TestConnection(ctx context.Context, integ domain.Integration) (string, error) {
	token, err := c.botToken(integ)
	if err != nil {
		return "", err
	}
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := c.call(ctx, token, "getMe", nil, &me); err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	return me.Username, nil
}
