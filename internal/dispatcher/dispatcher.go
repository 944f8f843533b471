// Package dispatcher is the single entry point for inbound platform
// notifications. It classifies each event, applies trade events to the
// ledger, and schedules directory refreshes for identity and transfer
// events. Player messages produced by refreshes are handed to the primary
// loop.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/alanyoungcy/walletlink/internal/directory"
	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/ledger"
)

// Runner runs a job off the calling goroutine. scheduler.Scheduler
// satisfies it.
type Runner interface {
	RunAsync(name string, fn func(ctx context.Context) error) (string, error)
}

// Poster queues work on the primary loop. scheduler.Loop satisfies it.
type Poster interface {
	Post(fn func()) error
}

// Stats are cumulative event counters.
type Stats struct {
	Handled     int64 `json:"handled"`
	Malformed   int64 `json:"malformed"`
	Unsupported int64 `json:"unsupported"`
	Recovered   int64 `json:"recovered"`
	Scheduled   int64 `json:"scheduled"`
	Dropped     int64 `json:"dropped"`
}

// Dispatcher routes notifications. Handle never blocks on I/O and never
// panics.
type Dispatcher struct {
	directory *directory.Directory
	ledger    *ledger.Ledger
	runner    Runner
	primary   Poster
	messenger domain.PlayerMessenger
	catalog   *directory.TokenCatalog
	logger    *slog.Logger

	handled     atomic.Int64
	malformed   atomic.Int64
	unsupported atomic.Int64
	recovered   atomic.Int64
	scheduled   atomic.Int64
	dropped     atomic.Int64
}

// Deps groups the collaborators a Dispatcher needs. Catalog is optional.
type Deps struct {
	Directory *directory.Directory
	Ledger    *ledger.Ledger
	Runner    Runner
	Primary   Poster
	Messenger domain.PlayerMessenger
	Catalog   *directory.TokenCatalog
}

// New creates a Dispatcher.
func New(deps Deps, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		directory: deps.Directory,
		ledger:    deps.Ledger,
		runner:    deps.Runner,
		primary:   deps.Primary,
		messenger: deps.Messenger,
		catalog:   deps.Catalog,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Handle processes one event. Failures are logged and the event is
// discarded; later events are unaffected.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.NotificationEvent) {
	d.logger.Debug("event received",
		slog.String("type", string(ev.Type)),
		slog.String("subtype", ev.Subtype),
		slog.String("channel", ev.Channel),
	)

	var pc panics.Catcher
	pc.Try(func() { d.handle(ctx, ev) })
	if r := pc.Recovered(); r != nil {
		d.recovered.Add(1)
		d.logger.Error("event handling panicked",
			slog.String("type", string(ev.Type)),
			slog.String("subtype", ev.Subtype),
			slog.String("channel", ev.Channel),
			slog.String("error", r.AsError().Error()),
		)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev domain.NotificationEvent) {
	c := Classify(ev)
	switch c.Outcome {
	case OutcomeMalformed:
		d.malformed.Add(1)
		d.logger.Debug("malformed event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("subtype", ev.Subtype),
			slog.String("reason", c.Reason),
		)
		return
	case OutcomeUnsupported:
		d.unsupported.Add(1)
		d.logger.Debug("event ignored", slog.String("reason", c.Reason))
		return
	}

	d.handled.Add(1)
	a := c.Action
	switch a.Kind {
	case ActionRefreshIdentity:
		e := d.directory.ResolveAccount(a.AccountID)
		if e == nil {
			d.logger.Debug("identity not tracked", slog.String("account_id", a.AccountID))
			return
		}
		d.scheduleRefresh(e, nil)

	case ActionBeginTrade:
		d.ledger.BeginTrade(a.RequestID, a.TradeID)

	case ActionCompleteTrade:
		d.ledger.CompleteTrade(a.RequestID)

	case ActionTransfer:
		d.transfer(a)
	}
}

func (d *Dispatcher) transfer(a Action) {
	if from := d.directory.ResolveAddress(a.From); from != nil {
		msg := d.transferMessage(domain.MessageTokenSent, a)
		d.scheduleRefresh(from, &msg)
	}
	if to := d.directory.ResolveAddress(a.To); to != nil {
		msg := d.transferMessage(domain.MessageTokenReceived, a)
		d.scheduleRefresh(to, &msg)
	}
}

func (d *Dispatcher) transferMessage(kind domain.PlayerMessageKind, a Action) domain.PlayerMessage {
	amount := a.Amount
	if a.AmountValue != nil {
		amount = a.AmountValue.String()
	}
	if amount == "" {
		amount = "?"
	}

	label := "tokens"
	if a.TokenID != "" {
		label = a.TokenID
		if d.catalog != nil {
			label = d.catalog.Label(a.TokenID)
		}
	}

	verb := "received"
	if kind == domain.MessageTokenSent {
		verb = "sent"
	}
	return domain.PlayerMessage{
		Kind:    kind,
		Text:    fmt.Sprintf("You have %s %s %s.", verb, amount, label),
		Amount:  amount,
		TokenID: a.TokenID,
	}
}

// Track registers a player with the directory and schedules its first
// refresh. It is the hook for the player-session layer.
func (d *Dispatcher) Track(playerID, accountID string) (*directory.Entry, error) {
	e, err := d.directory.Register(playerID, accountID)
	if err != nil {
		return nil, err
	}
	if !e.Loaded() {
		d.scheduleRefresh(e, nil)
	}
	return e, nil
}

// scheduleRefresh refreshes e on a worker. When msg is set it is delivered
// on the primary loop after the refresh attempt finishes, whether or not
// the refresh succeeded.
func (d *Dispatcher) scheduleRefresh(e *directory.Entry, msg *domain.PlayerMessage) {
	job := func(ctx context.Context) error {
		err := d.directory.Refresh(ctx, e)
		if msg != nil {
			d.postMessage(context.WithoutCancel(ctx), e.PlayerID, *msg)
		}
		return err
	}

	if _, err := d.runner.RunAsync("refresh:"+e.AccountID, job); err != nil {
		d.dropped.Add(1)
		d.logger.Warn("refresh not scheduled",
			slog.String("account_id", e.AccountID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.scheduled.Add(1)
}

func (d *Dispatcher) postMessage(ctx context.Context, playerID string, msg domain.PlayerMessage) {
	if d.messenger == nil || d.primary == nil {
		return
	}
	err := d.primary.Post(func() {
		if err := d.messenger.NotifyPlayer(ctx, playerID, msg); err != nil {
			d.logger.Warn("player message failed",
				slog.String("player_id", playerID),
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("player message dropped",
			slog.String("player_id", playerID),
			slog.String("error", err.Error()),
		)
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Handled:     d.handled.Load(),
		Malformed:   d.malformed.Load(),
		Unsupported: d.unsupported.Load(),
		Recovered:   d.recovered.Load(),
		Scheduled:   d.scheduled.Load(),
		Dropped:     d.dropped.Load(),
	}
}

func trim(s string) string { return strings.TrimSpace(s) }
