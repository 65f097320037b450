// Package blob is the client for the object-storage collaborator that
// holds raw document bytes. Documents rows only carry the object key.
package blob

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Store struct {
	S3     *s3.Client
	Bucket string
}

func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}
