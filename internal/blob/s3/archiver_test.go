package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	w.types[path] = contentType
	return nil
}

type stubMarketArchive struct{ markets []domain.Market }

func (s *stubMarketArchive) ListResolvedBefore(context.Context, time.Time) ([]domain.Market, error) {
	return s.markets, nil
}

type stubPositionArchive struct{ positions []domain.Position }

func (s *stubPositionArchive) ListByMarket(context.Context, string) ([]domain.Position, error) {
	return s.positions, nil
}

type stubAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.logged = append(s.logged, event)
	return nil
}

func (s *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *stubAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func TestArchiveResolvedMarkets(t *testing.T) {
	writer := newMemWriter()
	audit := &stubAudit{}
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	arch := NewArchiver(writer,
		&stubMarketArchive{markets: []domain.Market{
			{QuestionID: "0x1", Resolved: true},
			{QuestionID: "0x2", Resolved: true},
		}},
		&stubPositionArchive{positions: []domain.Position{{QuestionID: "0x1", Redeemed: true}}},
		audit,
	)

	count, err := arch.ArchiveResolvedMarkets(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	data, ok := writer.objects["archive/markets/2026-04.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", writer.types["archive/markets/2026-04.jsonl"])

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, []string{"archive.markets"}, audit.logged)
}

func TestArchiveResolvedMarkets_Empty(t *testing.T) {
	writer := newMemWriter()
	arch := NewArchiver(writer, &stubMarketArchive{}, &stubPositionArchive{}, &stubAudit{})

	count, err := arch.ArchiveResolvedMarkets(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects, "no upload without records")
}

func TestArchiveAudit(t *testing.T) {
	writer := newMemWriter()
	audit := &stubAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "market_created"},
		{ID: 2, Event: "position_bought"},
		{ID: 3, Event: "market_resolved"},
	}}
	arch := NewArchiver(writer, &stubMarketArchive{}, &stubPositionArchive{}, audit)

	count, err := arch.ArchiveAudit(context.Background(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Contains(t, writer.objects, "archive/audit/2026-05.jsonl")
}
