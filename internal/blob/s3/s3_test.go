package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indijan/arbiter/internal/config"
)

type fakeS3 struct {
	mu          sync.Mutex
	method      string
	path        string
	body        string
	contentType string
	source      string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.method = r.Method
	f.path = r.URL.Path
	f.body = string(raw)
	f.contentType = r.Header.Get("Content-Type")
	f.source = r.Header.Get("X-Amz-Meta-Source")
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(context.Background(), config.S3Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Bucket:         "reports",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	return c
}

func TestWriterPutUsesPathStyle(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	w := NewWriter(newTestClient(t, srv.URL))
	err := w.Put(context.Background(), "ticks/2026/01/02/1.json", strings.NewReader(`{"tick_id":"t1"}`), "application/json")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, http.MethodPut, fake.method)
	assert.Equal(t, "/reports/ticks/2026/01/02/1.json", fake.path)
	assert.Contains(t, fake.body, `"tick_id":"t1"`)
	assert.Equal(t, "application/json", fake.contentType)
	assert.Equal(t, "arbiter", fake.source)
}

func TestWriterRejectsOversizedReport(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	w := NewWriter(newTestClient(t, srv.URL))
	err := w.Put(context.Background(), "big.json", strings.NewReader(strings.Repeat("x", maxObjectSize+1)), "application/json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.method)
}

func TestHealthChecksBucket(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).Health(context.Background()))
	assert.Equal(t, http.MethodHead, fake.method)
	assert.Equal(t, "/reports", fake.path)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), config.S3Config{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket is required")
	_, err = New(context.Background(), config.S3Config{Bucket: "b"})
	assert.ErrorContains(t, err, "region is required")
	_, err = New(context.Background(), config.S3Config{})
	assert.ErrorContains(t, err, "bucket is required\nregion is required")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
