package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/indijan/arbiter/internal/domain"
)

// Archiver uploads tick reports to object storage.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates a new Archiver. Reports are written under prefix.
func NewArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Key returns the object key for a tick report:
// <prefix>/YYYY/MM/DD/<unix_nano>.json.
func (a *Archiver) Key(res *TickResult) string {
	ts := res.StartedAt.UTC()
	return path.Join(a.prefix, ts.Format("2006/01/02"), strconv.FormatInt(ts.UnixNano(), 10)+".json")
}

// Archive uploads res as JSON and returns the object key.
func (a *Archiver) Archive(ctx context.Context, res *TickResult) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("archiver: marshal tick %s: %w", res.TickID, err)
	}
	key := a.Key(res)
	if err := a.writer.Put(ctx, key, bytes.NewReader(raw), "application/json"); err != nil {
		return "", fmt.Errorf("archiver: %w", err)
	}
	a.logger.DebugContext(ctx, "tick report archived",
		slog.String("tick_id", res.TickID),
		slog.String("key", key),
		slog.Int("bytes", len(raw)),
	)
	return key, nil
}
