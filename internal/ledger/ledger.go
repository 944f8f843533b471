// Package ledger tracks in-flight trade workflows keyed by the request id
// supplied when the trade was initiated. Creation and completion events may
// arrive in either order or more than once; the ledger treats a completion
// for an unknown request id as already handled.
package ledger

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// CompletionFunc observes a trade that has just been completed and removed.
// It is called outside the ledger lock and must not block.
type CompletionFunc func(trade domain.PendingTrade)

// Ledger holds at most one PendingTrade per request id. It is safe for
// concurrent use; every operation touches a single key.
type Ledger struct {
	mu         sync.Mutex
	trades     map[string]domain.PendingTrade
	onComplete CompletionFunc
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCompletion registers a hook invoked after each successful completion.
func WithCompletion(fn CompletionFunc) Option {
	return func(l *Ledger) { l.onComplete = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty Ledger.
func New(logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		trades: make(map[string]domain.PendingTrade),
		now:    time.Now,
		logger: logger.With(slog.String("component", "trade_ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BeginTrade records a CREATED trade for requestID. An existing entry for the
// same request id is overwritten.
func (l *Ledger) BeginTrade(requestID, tradeID string) domain.PendingTrade {
	requestID = strings.TrimSpace(requestID)
	trade := domain.PendingTrade{
		RequestID: requestID,
		TradeID:   strings.TrimSpace(tradeID),
		State:     domain.TradeStateCreated,
		CreatedAt: l.now().UTC(),
	}

	l.mu.Lock()
	_, replaced := l.trades[requestID]
	l.trades[requestID] = trade
	l.mu.Unlock()

	l.logger.Debug("trade created",
		slog.String("request_id", requestID),
		slog.String("trade_id", trade.TradeID),
		slog.Bool("replaced", replaced),
	)
	return trade
}

// CompleteTrade marks the trade for requestID as COMPLETED and removes it.
// It reports whether an entry existed. Unknown request ids are a no-op.
func (l *Ledger) CompleteTrade(requestID string) (domain.PendingTrade, bool) {
	requestID = strings.TrimSpace(requestID)

	l.mu.Lock()
	trade, ok := l.trades[requestID]
	if ok {
		delete(l.trades, requestID)
	}
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("completion for unknown request ignored", slog.String("request_id", requestID))
		return domain.PendingTrade{}, false
	}

	trade.State = domain.TradeStateCompleted
	trade.CompletedAt = l.now().UTC()

	l.logger.Info("trade completed",
		slog.String("request_id", trade.RequestID),
		slog.String("trade_id", trade.TradeID),
	)
	if l.onComplete != nil {
		l.onComplete(trade)
	}
	return trade, true
}

// Get returns the pending trade for requestID.
func (l *Ledger) Get(requestID string) (domain.PendingTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[strings.TrimSpace(requestID)]
	return t, ok
}

// Len returns the number of pending trades.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

// Pending returns a copy of all pending trades ordered by creation time.
func (l *Ledger) Pending() []domain.PendingTrade {
	l.mu.Lock()
	out := make([]domain.PendingTrade, 0, len(l.trades))
	for _, t := range l.trades {
		out = append(out, t)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expire drops trades created more than maxAge ago and returns how many were
// removed. Expired trades are not reported as completed.
func (l *Ledger) Expire(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := l.now().UTC().Add(-maxAge)

	l.mu.Lock()
	var expired []string
	for id, t := range l.trades {
		if t.CreatedAt.Before(cutoff) {
			delete(l.trades, id)
			expired = append(expired, id)
		}
	}
	l.mu.Unlock()

	for _, id := range expired {
		l.logger.Warn("pending trade expired", slog.String("request_id", id))
	}
	return len(expired)
}
