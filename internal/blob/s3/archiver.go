package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// TradeArchiveStore is the part of the trade store the archiver needs.
type TradeArchiveStore interface {
	ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]domain.PendingTrade, error)
	DeleteByRequestIDs(ctx context.Context, requestIDs []string) (int64, error)
}

// multipartThreshold is the payload size above which uploads use the
// multipart manager.
const multipartThreshold = 32 * 1024 * 1024

// ArchiveImpl implements domain.Archiver. Completed trades older than the
// cutoff are serialised to JSONL, uploaded, and only then deleted from the
// primary store, in batches of batchSize.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	audit     domain.AuditStore
	batchSize int
	now       func() time.Time
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audit domain.AuditStore, batchSize int) *ArchiveImpl {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &ArchiveImpl{
		writer:    writer,
		trades:    trades,
		audit:     audit,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// archivedTrade is the JSONL record layout.
type archivedTrade struct {
	RequestID   string    `json:"request_id"`
	TradeID     string    `json:"trade_id"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ArchiveTrades moves completed trades older than before to object storage
// and returns the number archived. A failed upload leaves the batch in the
// store for the next run.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for part := 0; ; part++ {
		trades, err := a.trades.ListCompletedBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		if len(trades) == 0 {
			return total, nil
		}

		records := make([]archivedTrade, len(trades))
		ids := make([]string, len(trades))
		for i, t := range trades {
			records[i] = archivedTrade{
				RequestID:   t.RequestID,
				TradeID:     t.TradeID,
				State:       string(t.State),
				CreatedAt:   t.CreatedAt,
				CompletedAt: t.CompletedAt,
			}
			ids[i] = t.RequestID
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades marshal: %w", err)
		}

		path := archivePath("trades", a.now(), part)
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades upload: %w", err)
		}

		deleted, err := a.trades.DeleteByRequestIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive trades delete: %w", err)
		}
		total += deleted

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.trades", map[string]any{
				"path":   path,
				"count":  len(trades),
				"before": before.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive trades audit log: %w", err)
			}
		}

		if len(trades) < a.batchSize {
			return total, nil
		}
	}
}

// archivePath builds the object key for one archive batch, partitioned by
// month of the run.
//
//	archive/trades/2026-03/20260301T120000Z-0000.jsonl
func archivePath(kind string, at time.Time, part int) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%04d.jsonl", kind, at.Format("2006-01"), at.Format("20060102T150405Z"), part)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
