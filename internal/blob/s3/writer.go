package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantnest/papervenue/internal/domain"
)

// Writer implements domain.BlobWriter on top of the S3 client. Archive
// objects are newline-delimited JSON, so the content type is fixed.
type Writer struct {
	client *Client
}

// NewWriter creates a Writer backed by the given client.
func NewWriter(client *Client) *Writer {
	return &Writer{client: client}
}

// Put uploads an object to the configured bucket under the given key.
func (w *Writer) Put(ctx context.Context, key string, data []byte) error {
	_, err := w.client.SDK().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
