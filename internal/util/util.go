package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func newID(prefix string) string {
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// ULID-based ids are sortable, which keeps DB indexes and job listings tidy.
func NewJobID() string         { return newID("job_") }
func NewDocumentID() string    { return newID("doc_") }
func NewIntegrationID() string { return newID("int_") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
