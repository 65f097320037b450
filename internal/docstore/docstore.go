// Package docstore is the client side of the Document Store collaborator:
// it uploads bytes to blob storage, inserts the document row, and returns
// the persisted document id.
package docstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"docsync/internal/domain"
	"docsync/internal/store"
	"docsync/internal/util"
)

type Records interface {
	InsertDocument(ctx context.Context, in store.DocumentInsert) error
}

type Blob interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

type Store struct {
	Records Records
	Blob    Blob
	IDGen   func() string
}

func New(records Records, blob Blob) *Store {
	return &Store{Records: records, Blob: blob, IDGen: util.NewDocumentID}
}

func (s *Store) Create(ctx context.Context, req domain.DocumentRequest) (string, error) {
	if req.OwnerID == "" {
		return "", fmt.Errorf("document request missing owner")
	}
	id := s.IDGen()
	name := safeFilename(req.Filename)
	key := fmt.Sprintf("%s/%s/%s", req.OwnerID, id, name)

	mime := req.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}

	if err := s.Blob.Put(ctx, key, mime, req.Data); err != nil {
		return "", fmt.Errorf("blob put %s: %w", key, err)
	}

	err := s.Records.InsertDocument(ctx, store.DocumentInsert{
		ID:            id,
		OwnerID:       req.OwnerID,
		IntegrationID: req.IntegrationID,
		Filename:      name,
		MIME:          mime,
		StorageKey:    key,
		Size:          int64(len(req.Data)),
		Channel:       req.Channel,
		Provenance:    req.Provenance,
		Now:           util.NowUTC(),
	})
	if err != nil {
		return "", fmt.Errorf("insert document %s: %w", id, err)
	}
	return id, nil
}

func safeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." {
		return "file"
	}
	return name
}
