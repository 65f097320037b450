package dropbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docsync/internal/domain"
	"docsync/internal/providers"
)

func dbxIntegration() domain.Integration {
	return domain.Integration{
		ID: "int_1", UserID: "u1", Provider: domain.ProviderDropbox,
		AccessToken: "dbx-token", Active: true,
	}
}

func TestTestConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/get_current_account" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer dbx-token" {
			t.Fatalf("auth = %q", got)
		}
		_, _ = w.Write([]byte(`{"email":"user@example.com","name":{"display_name":"User"}}`))
	}))
	defer ts.Close()
	c := NewClient(ts.URL, ts.URL, providers.NewHTTPClient("dropbox", 5*time.Second, 100, 100))

	identity, err := c.TestConnection(context.Background(), dbxIntegration())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if identity != "user@example.com" {
		t.Fatalf("identity = %q", identity)
	}
}

func TestPullFiltersAndPages(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := since.Add(-time.Hour).Format(time.RFC3339)
	fresh := since.Add(time.Hour).Format(time.RFC3339)

	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path      string `json:"path"`
			Recursive bool   `json:"recursive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Recursive {
			t.Fatalf("list_folder request: %+v (err %v)", req, err)
		}
		_, _ = w.Write([]byte(`{
			"entries": [
				{".tag":"file","id":"id:new","name":"new.pdf","path_display":"/new.pdf","server_modified":"` + fresh + `","size":3},
				{".tag":"file","id":"id:old","name":"old.pdf","path_display":"/old.pdf","server_modified":"` + old + `","size":3},
				{".tag":"folder","id":"id:dir","name":"dir","path_display":"/dir"}
			],
			"cursor": "cur-1",
			"has_more": true
		}`))
	})
	mux.HandleFunc("/2/files/list_folder/continue", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor string `json:"cursor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cursor != "cur-1" {
			t.Fatalf("continue cursor = %q (err %v)", req.Cursor, err)
		}
		_, _ = w.Write([]byte(`{
			"entries": [
				{".tag":"file","id":"id:new2","name":"new2.txt","path_display":"/dir/new2.txt","server_modified":"` + fresh + `","size":5}
			],
			"cursor": "cur-2",
			"has_more": false
		}`))
	})
	mux.HandleFunc("/2/files/download", func(w http.ResponseWriter, r *http.Request) {
		var arg struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
			t.Fatalf("api arg: %v", err)
		}
		_, _ = w.Write([]byte("content of " + arg.Path))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := NewClient(ts.URL, ts.URL, providers.NewHTTPClient("dropbox", 5*time.Second, 100, 100))

	var pulled []domain.SyncedFile
	count, err := c.Pull(context.Background(), dbxIntegration(), since, func(f domain.SyncedFile) error {
		pulled = append(pulled, f)
		return nil
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if count != 2 || len(pulled) != 2 {
		t.Fatalf("count = %d, pulled = %d", count, len(pulled))
	}
	if pulled[0].Name != "new.pdf" || pulled[1].Name != "new2.txt" {
		t.Fatalf("pulled = %+v", pulled)
	}
	if string(pulled[0].Data) != "content of /new.pdf" {
		t.Fatalf("data = %q", pulled[0].Data)
	}
}

func TestPullMissingAccessToken(t *testing.T) {
	c := &Client{}
	integ := dbxIntegration()
	integ.AccessToken = ""
	_, err := c.Pull(context.Background(), integ, time.Time{}, nil)
	if !domain.IsTerminal(err) {
		t.Fatalf("missing token must be terminal, got %v", err)
	}
}
