package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/indijan/arbiter/internal/domain"
)

// maxObjectSize caps a single report upload at 16 MiB.
const maxObjectSize = 16 << 20

// Writer stores tick reports in the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{api: c.s3, bucket: c.bucket}
}

// Put buffers data and stores it under key with a single PutObject. The
// buffered body lets the SDK sign a known length over plain HTTP endpoints.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(io.LimitReader(data, maxObjectSize+1))
	if err != nil {
		return fmt.Errorf("s3blob: read %s: %w", key, err)
	}
	if len(buf) > maxObjectSize {
		return fmt.Errorf("s3blob: %s exceeds %d bytes", key, maxObjectSize)
	}

	_, err = w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(int64(len(buf))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"source": "arbiter"},
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
