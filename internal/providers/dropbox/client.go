// Package dropbox integrates Dropbox as an OAuth-backed document source.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

type Client struct {
	BaseURL    string // api.dropboxapi.com
	ContentURL string // content.dropboxapi.com
	HTTP       *providers.HTTPClient
}

func NewClient(baseURL, contentURL string, httpc *providers.HTTPClient) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ContentURL: strings.TrimRight(contentURL, "/"),
		HTTP:       httpc,
	}
}

func (c *Client) accessToken(integ domain.Integration) (string, error) {
	if integ.AccessToken == "" {
		return "", domain.Terminal(errors.New("dropbox integration missing access token"))
	}
	return integ.AccessToken, nil
}

func (c *Client) rpc(ctx context.Context, token, op string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+op, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	status, respBody, err := c.HTTP.DoRead(ctx, req, "dropbox", op)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &providers.StatusError{Provider: "dropbox", Op: op, Status: status, Body: string(respBody)}
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// TestConnection reads the current account, a side-effect-free credential
// probe returning the account email.
func (c *Client) TestConnection(ctx context.Context, integ domain.Integration) (string, error) {
	token, err := c.accessToken(integ)
	if err != nil {
		return "", err
	}
	var acct struct {
		Email string `json:"email"`
		Name  struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
	}
	if err := c.rpc(ctx, token, "/2/users/get_current_account", nil, &acct); err != nil {
		return "", err
	}
	if acct.Email != "" {
		return acct.Email, nil
	}
	return acct.Name.DisplayName, nil
}

type listEntry struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	ServerModified time.Time `json:"server_modified"`
	Size           int64     `json:"size"`
	IsDownloadable *bool     `json:"is_downloadable"`
}

type listResult struct {
	Entries []listEntry `json:"entries"`
	Cursor  string      `json:"cursor"`
	HasMore bool        `json:"has_more"`
}

// Pull walks the whole folder tree and downloads files modified after the
// watermark. Dropbox's list_folder has no server-side time filter, so the
// filter is applied client-side while paging the cursor.
func (c *Client) Pull(ctx context.Context, integ domain.Integration, since time.Time, emit func(domain.SyncedFile) error) (int, error) {
	token, err := c.accessToken(integ)
	if err != nil {
		return 0, err
	}

	var page listResult
	err = c.rpc(ctx, token, "/2/files/list_folder", map[string]any{
		"path":      "",
		"recursive": true,
	}, &page)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		for _, e := range page.Entries {
			if e.Tag != "file" || !e.ServerModified.After(since) {
				continue
			}
			if e.IsDownloadable != nil && !*e.IsDownloadable {
				continue
			}
			data, err := c.download(ctx, token, e.PathDisplay)
			if err != nil {
				return count, err
			}
			mime := http.DetectContentType(data)
			if err := emit(domain.SyncedFile{
				SourceID:   e.ID,
				Name:       e.Name,
				MIME:       mime,
				Data:       data,
				Path:       e.PathDisplay,
				ModifiedAt: e.ServerModified,
			}); err != nil {
				return count, err
			}
			count++
		}
		if !page.HasMore {
			return count, nil
		}
		var next listResult
		if err := c.rpc(ctx, token, "/2/files/list_folder/continue", map[string]any{"cursor": page.Cursor}, &next); err != nil {
			return count, err
		}
		page = next
	}
}

func (c *Client) download(ctx context.Context, token, path string) ([]byte, error) {
	arg, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.ContentURL+"/2/files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	status, body, err := c.HTTP.DoRead(ctx, req, "dropbox", "download")
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	if status != http.StatusOK {
		return nil, &providers.StatusError{Provider: "dropbox", Op: "download", Status: status, Body: trimBody(body)}
	}
	return body, nil
}

func trimBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
