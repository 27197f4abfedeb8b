// Package archive writes purged dead-letter jobs to zstd-compressed
// JSON Lines spool files so expired jobs remain inspectable after they
// leave the live queue.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"webhookd/internal/queue"
	"webhookd/internal/types"
)

var _ queue.Archiver = (*SpoolArchiver)(nil)

// SpoolArchiver compresses job batches into timestamped files under a spool
// directory. One file per purge batch, one JSON document per line.
type SpoolArchiver struct {
	dir     string
	clock   types.Clock
	logger  *slog.Logger
	encoder *zstd.Encoder
}

// NewSpoolArchiver creates the spool directory if needed and returns the
// archiver.
func NewSpoolArchiver(dir string, clock types.Clock, logger *slog.Logger) (*SpoolArchiver, error) {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: failed to create spool dir %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("archive: failed to create zstd encoder: %w", err)
	}
	return &SpoolArchiver{dir: dir, clock: clock, logger: logger, encoder: enc}, nil
}

// Archive writes one compressed spool file for the batch. The write is
// atomic: the file appears under its final name only when complete.
func (a *SpoolArchiver) Archive(ctx context.Context, jobs []*types.WebhookJob) error {
	if len(jobs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return fmt.Errorf("archive: failed to encode job %s: %w", job.ID, err)
		}
	}

	compressed := a.encoder.EncodeAll(buf.Bytes(), nil)
	name := fmt.Sprintf("deadletter-%s.jsonl.zst", a.clock.Now().Format("20060102T150405.000000000"))
	final := filepath.Join(a.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("archive: failed to write spool file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("archive: failed to finalize spool file: %w", err)
	}

	a.logger.InfoContext(ctx, "dead-letter batch archived",
		slog.String("file", final),
		slog.Int("jobs", len(jobs)),
		slog.Int("compressed_bytes", len(compressed)),
	)
	return nil
}
