package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/walletlink/internal/dispatcher"
	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/notify"
)

// tradeRecorder persists completed trades and raises the operator alert.
// OnComplete runs inside the ledger's completion path, so the work itself is
// handed to the scheduler.
type tradeRecorder struct {
	runner   dispatcher.Runner
	store    domain.TradeStore // optional
	audit    domain.AuditStore // optional
	notifier *notify.Notifier  // optional
	logger   *slog.Logger
}

func newTradeRecorder(runner dispatcher.Runner, store domain.TradeStore, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *tradeRecorder {
	return &tradeRecorder{
		runner:   runner,
		store:    store,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_recorder")),
	}
}

// OnComplete is a ledger.CompletionFunc.
func (r *tradeRecorder) OnComplete(t domain.PendingTrade) {
	if r.store == nil && r.audit == nil && !r.notifier.Enabled() {
		return
	}
	if _, err := r.runner.RunAsync("record-trade:"+t.RequestID, func(ctx context.Context) error {
		return r.record(ctx, t)
	}); err != nil {
		r.logger.Warn("completed trade not recorded",
			slog.String("request_id", t.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *tradeRecorder) record(ctx context.Context, t domain.PendingTrade) error {
	var errs []error
	if r.store != nil {
		if err := r.store.Insert(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("insert: %w", err))
		}
	}
	if r.audit != nil {
		detail := map[string]any{"request_id": t.RequestID, "trade_id": t.TradeID}
		if err := r.audit.Log(ctx, "trade.completed", detail); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if err := r.notifier.TradeCompleted(ctx, t); err != nil {
		errs = append(errs, fmt.Errorf("alert: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("app: record trade %s: %w", t.RequestID, errors.Join(errs...))
	}
	return nil
}
