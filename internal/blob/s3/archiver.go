package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// MarketArchiveStore is the slice of the market store the archiver needs:
// resolved markets older than a cutoff, plus the positions that settled in
// them.
type MarketArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// PositionArchiveStore provides the per-market position listing used to
// snapshot settled holdings next to their market.
type PositionArchiveStore interface {
	ListByMarket(ctx context.Context, questionID string) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for
// historical records, serializing them to JSONL, and uploading the result to
// blob storage.
//
// Deletion of archived records from the primary store is intentionally not
// performed here; that is a separate, explicit step executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	markets   MarketArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	positions PositionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		markets:   markets,
		positions: positions,
		audit:     audit,
	}
}

// marketArchiveRecord is one JSONL line: a resolved market with its settled
// positions inlined.
type marketArchiveRecord struct {
	Market    domain.Market     `json:"market"`
	Positions []domain.Position `json:"positions,omitempty"`
}

// ArchiveResolvedMarkets snapshots every market resolved before the cutoff,
// with its positions, to archive/markets/YYYY-MM.jsonl. It returns the
// number of archived markets.
func (a *ArchiveImpl) ArchiveResolvedMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	records := make([]marketArchiveRecord, 0, len(markets))
	for _, m := range markets {
		positions, err := a.positions.ListByMarket(ctx, m.QuestionID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive positions for %s: %w", m.QuestionID, err)
		}
		records = append(records, marketArchiveRecord{Market: m, Positions: positions})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	count := int64(len(markets))
	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit snapshots audit rows created before the cutoff to
// archive/audit/YYYY-MM.jsonl. It returns the number of archived rows.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	return int64(len(entries)), nil
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for a monthly archive file.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
