package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkarpenko/spreadbot/internal/domain"
	"github.com/vkarpenko/spreadbot/internal/ledger"
)

type fakeWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string][]byte{}}
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.mu.Lock()
	w.objects[path] = buf.Bytes()
	w.mu.Unlock()
	return nil
}

// memSpreadStore is a minimal in-memory SpreadStore for archiver tests.
type memSpreadStore struct {
	mu      sync.Mutex
	samples []domain.SpreadSample
}

func (s *memSpreadStore) Insert(ctx context.Context, sample domain.SpreadSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *memSpreadStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.SpreadSample, error) {
	return nil, nil
}

func (s *memSpreadStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SpreadSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SpreadSample
	for _, sm := range s.samples {
		if sm.Timestamp.Before(cutoff) {
			out = append(out, sm)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memSpreadStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.SpreadSample
	var deleted int64
	for _, sm := range s.samples {
		if sm.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, sm)
	}
	s.samples = kept
	return deleted, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveSpreadsUploadsAndPrunes(t *testing.T) {
	ctx := context.Background()
	writer := newFakeWriter()
	spreads := &memSpreadStore{}
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, spreads.Insert(ctx, domain.SpreadSample{
			Symbol:    "BTC/USDT",
			Timestamp: now.Add(-time.Duration(48+i) * time.Hour),
		}))
	}
	// One fresh sample that must survive.
	require.NoError(t, spreads.Insert(ctx, domain.SpreadSample{
		Symbol:    "BTC/USDT",
		Timestamp: now,
	}))

	a := NewArchiver(writer, spreads, ledger.NewMemory(), "spreadbot/test", discardLogger())

	n, err := a.ArchiveSpreads(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, writer.objects, 1)
	for key, data := range writer.objects {
		assert.True(t, strings.HasPrefix(key, "spreadbot/test/spreads/"))
		assert.Equal(t, 3, strings.Count(string(data), "\n"))
	}

	remaining, err := spreads.ListBefore(ctx, now.Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestArchiveSpreadsNothingToDo(t *testing.T) {
	ctx := context.Background()
	writer := newFakeWriter()
	a := NewArchiver(writer, &memSpreadStore{}, ledger.NewMemory(), "p", discardLogger())

	n, err := a.ArchiveSpreads(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.objects)
}

func TestArchiveClosedPositionsSnapshot(t *testing.T) {
	ctx := context.Background()
	writer := newFakeWriter()
	mem := ledger.NewMemory()

	pos := domain.Position{
		PositionID: uuid.New().String(),
		Symbol:     "BTC/USDT",
		Volume:     1,
		OpenedAt:   time.Now().UTC(),
	}
	require.NoError(t, mem.Open(ctx, pos))
	require.NoError(t, mem.Close(ctx, pos.PositionID, 0.01, 2.5))

	a := NewArchiver(writer, &memSpreadStore{}, mem, "spreadbot/test", discardLogger())
	require.NoError(t, a.ArchiveClosedPositions(ctx))

	data, ok := writer.objects["spreadbot/test/positions/closed.jsonl"]
	require.True(t, ok)
	assert.Contains(t, string(data), pos.PositionID)
}
