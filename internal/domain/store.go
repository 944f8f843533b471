package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists completed trades after they leave the ledger.
type TradeStore interface {
	Insert(ctx context.Context, trade PendingTrade) error
	GetByRequestID(ctx context.Context, requestID string) (PendingTrade, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]PendingTrade, error)
	ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]PendingTrade, error)
	DeleteByRequestIDs(ctx context.Context, requestIDs []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
