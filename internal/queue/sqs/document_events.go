package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"docsync/internal/domain"
)

// DocumentEvent asks the downstream processing pipeline to extract and
// analyze a freshly ingested document. Keep it small; SQS has a 256KB
// message size limit, so bytes stay in blob storage.
type DocumentEvent struct {
	DocumentID    string              `json:"documentId"`
	OwnerID       string              `json:"ownerId"`
	IntegrationID string              `json:"integrationId"`
	Provider      domain.ProviderType `json:"provider"`
	Filename      string              `json:"filename"`
	MIME          string              `json:"mime"`
	SizeBytes     int64               `json:"sizeBytes"`
	IngestedAt    time.Time           `json:"ingestedAt"`
}

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

func (p *Producer) PublishDocumentEvent(ctx context.Context, ev DocumentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	})
	return err
}

func str(s string) *string { return &s }
