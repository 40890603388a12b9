package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// BlobWriter is the narrow upload interface the archiver needs; *Writer
// satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// spreadBatchSize bounds how many samples one archive page carries.
const spreadBatchSize = 5000

// Archiver exports aged spread samples and the closed-position history to an
// S3-compatible bucket as JSONL, then prunes the archived spread rows from
// the primary store. Closed positions are exported but never deleted; they
// are the trading record.
type Archiver struct {
	writer  BlobWriter
	spreads domain.SpreadStore
	ledger  domain.PositionLedger
	prefix  string
	logger  *slog.Logger
}

// NewArchiver creates an Archiver. prefix namespaces all object keys, e.g.
// "spreadbot/prod".
func NewArchiver(writer BlobWriter, spreads domain.SpreadStore, ledger domain.PositionLedger, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		spreads: spreads,
		ledger:  ledger,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on every tick until the context is cancelled. retention is how
// far back spread samples stay in the primary store.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if n, err := a.ArchiveSpreads(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "spread archive failed",
					slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "spreads archived",
					slog.Int("samples", n),
					slog.Time("cutoff", cutoff))
			}
			if err := a.ArchiveClosedPositions(ctx); err != nil {
				a.logger.ErrorContext(ctx, "position archive failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveSpreads uploads all samples older than cutoff as JSONL pages and
// deletes them from the primary store once every page is safely stored. It
// returns the number of archived samples.
func (a *Archiver) ArchiveSpreads(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	page := 0
	for {
		samples, err := a.spreads.ListBefore(ctx, cutoff, spreadBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list spreads: %w", err)
		}
		if len(samples) == 0 {
			break
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, s := range samples {
			if err := enc.Encode(s); err != nil {
				return total, fmt.Errorf("s3blob: encode spread: %w", err)
			}
		}

		key := fmt.Sprintf("%s/spreads/%s/page-%04d.jsonl",
			a.prefix, cutoff.Format("2006-01-02"), page)
		if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload spreads: %w", err)
		}

		// Prune only up to the last archived sample so a partial run never
		// drops unexported rows.
		last := samples[len(samples)-1].Timestamp
		if _, err := a.spreads.DeleteBefore(ctx, last.Add(time.Nanosecond)); err != nil {
			return total, fmt.Errorf("s3blob: prune spreads: %w", err)
		}

		total += len(samples)
		page++
		if len(samples) < spreadBatchSize {
			break
		}
	}
	return total, nil
}

// ArchiveClosedPositions uploads a full snapshot of the closed-position
// history. The object is overwritten on every run; positions are never
// deleted from the primary store.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context) error {
	positions, err := a.ledger.ListClosed(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("s3blob: list closed positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range positions {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("s3blob: encode position: %w", err)
		}
	}

	key := fmt.Sprintf("%s/positions/closed.jsonl", a.prefix)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload positions: %w", err)
	}
	return nil
}
