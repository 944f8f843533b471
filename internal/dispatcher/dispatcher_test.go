package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/directory"
	"github.com/alanyoungcy/walletlink/internal/domain"
	"github.com/alanyoungcy/walletlink/internal/ledger"
	"github.com/alanyoungcy/walletlink/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualRunner queues jobs and runs them when drain is called.
type manualRunner struct {
	mu     sync.Mutex
	names  []string
	jobs   []func(context.Context) error
	reject error
}

func (r *manualRunner) RunAsync(name string, fn func(context.Context) error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil {
		return "", r.reject
	}
	r.names = append(r.names, name)
	r.jobs = append(r.jobs, fn)
	return name, nil
}

func (r *manualRunner) drain(t *testing.T) []error {
	t.Helper()
	r.mu.Lock()
	jobs := r.jobs
	r.jobs = nil
	r.mu.Unlock()
	var errs []error
	for _, j := range jobs {
		errs = append(errs, j(context.Background()))
	}
	return errs
}

func (r *manualRunner) scheduledNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type sentMessage struct {
	playerID string
	msg      domain.PlayerMessage
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *recordingMessenger) NotifyPlayer(_ context.Context, playerID string, msg domain.PlayerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{playerID: playerID, msg: msg})
	return nil
}

func (m *recordingMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type stubFetcher struct {
	mu         sync.Mutex
	identities map[string]domain.Identity
	balances   map[string][]domain.WalletBalance
	fail       bool
	calls      map[string]int
}

func (f *stubFetcher) FetchIdentity(_ context.Context, accountID string) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[accountID]++
	if f.fail {
		return domain.Identity{}, errors.New("platform down")
	}
	return f.identities[accountID], nil
}

func (f *stubFetcher) FetchBalances(_ context.Context, accountID string) ([]domain.WalletBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[accountID], nil
}

func (f *stubFetcher) callCount(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[accountID]
}

type harness struct {
	d         *Dispatcher
	dir       *directory.Directory
	ledger    *ledger.Ledger
	runner    *manualRunner
	loop      *scheduler.Loop
	messenger *recordingMessenger
	fetcher   *stubFetcher
}

// Wallet "0xA" is linked to player steve. "0xB" is unknown.
func newHarness(t *testing.T) *harness {
	t.Helper()
	fetcher := &stubFetcher{
		identities: map[string]domain.Identity{
			"acct-a": {ID: "acct-a", WalletAddress: "0xA", Linked: true},
			"acct-c": {ID: "acct-c", WalletAddress: "0xC", Linked: true},
		},
		balances: map[string][]domain.WalletBalance{
			"acct-a": {{TokenID: "tok-1", Quantity: decimal.NewFromInt(3)}},
		},
	}
	dir := directory.New(fetcher, discardLogger())
	led := ledger.New(discardLogger())
	runner := &manualRunner{}
	loop := scheduler.NewLoop(20, 64, discardLogger())
	messenger := &recordingMessenger{}

	d := New(Deps{
		Directory: dir,
		Ledger:    led,
		Runner:    runner,
		Primary:   loop,
		Messenger: messenger,
	}, discardLogger())

	h := &harness{d: d, dir: dir, ledger: led, runner: runner, loop: loop, messenger: messenger, fetcher: fetcher}
	return h
}

// linkPlayer registers and refreshes a player so the address index is set.
func (h *harness) linkPlayer(t *testing.T, playerID, accountID string) *directory.Entry {
	t.Helper()
	e, err := h.d.Track(playerID, accountID)
	require.NoError(t, err)
	h.runner.drain(t)
	require.True(t, e.Loaded())
	h.runner.mu.Lock()
	h.runner.names = nil
	h.runner.mu.Unlock()
	return e
}

func tx(subtype, txID string, params ...string) domain.NotificationEvent {
	return domain.NotificationEvent{
		Type:    domain.EventTxExecuted,
		Channel: "enjincloud.test.app.1",
		Subtype: subtype,
		Data:    domain.EventData{TransactionID: txID, Params: params},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		ev      domain.NotificationEvent
		outcome Outcome
		kind    ActionKind
	}{
		{"identity", domain.NotificationEvent{Type: domain.EventIdentityLinked, Data: domain.EventData{ID: "42"}}, OutcomeValid, ActionRefreshIdentity},
		{"identity without id", domain.NotificationEvent{Type: domain.EventIdentityLinked}, OutcomeMalformed, ActionNone},
		{"create trade", tx("CreateTrade", "r1", "t1"), OutcomeValid, ActionBeginTrade},
		{"create trade missing trade id", tx("CreateTrade", "r1"), OutcomeMalformed, ActionNone},
		{"create trade missing request id", tx("CreateTrade", "", "t1"), OutcomeMalformed, ActionNone},
		{"complete trade", tx("CompleteTrade", "r1"), OutcomeValid, ActionCompleteTrade},
		{"complete trade missing request id", tx("CompleteTrade", " "), OutcomeMalformed, ActionNone},
		{"transfer", tx("Transfer", "", "0xA", "0xB", "tok", "50"), OutcomeValid, ActionTransfer},
		{"transfer missing to", tx("Transfer", "", "0xA", ""), OutcomeMalformed, ActionNone},
		{"transfer missing from", tx("Transfer", "", "", "0xB"), OutcomeMalformed, ActionNone},
		{"empty subtype", tx("", "r1"), OutcomeUnsupported, ActionNone},
		{"unknown subtype", tx("MeltToken", "r1"), OutcomeUnsupported, ActionNone},
		{"wrong case subtype", tx("createtrade", "r1", "t1"), OutcomeUnsupported, ActionNone},
		{"unknown type", domain.NotificationEvent{Type: "APP_CREATED"}, OutcomeUnsupported, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.ev)
			assert.Equal(t, tt.outcome, c.Outcome)
			assert.Equal(t, tt.kind, c.Action.Kind)
			if c.Outcome != OutcomeValid {
				assert.NotEmpty(t, c.Reason)
			}
		})
	}
}

func TestClassify_TransferFields(t *testing.T) {
	c := Classify(tx("Transfer", "", "0xA", "0xB", "tok-1", "12.50"))
	require.Equal(t, OutcomeValid, c.Outcome)
	assert.Equal(t, "0xA", c.Action.From)
	assert.Equal(t, "0xB", c.Action.To)
	assert.Equal(t, "tok-1", c.Action.TokenID)
	require.NotNil(t, c.Action.AmountValue)
	assert.True(t, c.Action.AmountValue.Equal(decimal.RequireFromString("12.5")))

	c = Classify(tx("Transfer", "", "0xA", "0xB", "", "lots"))
	assert.Nil(t, c.Action.AmountValue)
	assert.Equal(t, "lots", c.Action.Amount)
}

func TestDispatcher_CreateThenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Handle(ctx, tx("CreateTrade", "r1", "t1"))
	got, ok := h.ledger.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TradeID)

	h.d.Handle(ctx, tx("CompleteTrade", "r1"))
	_, ok = h.ledger.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, h.ledger.Len())
}

func TestDispatcher_CompleteUnknownIsNoop(t *testing.T) {
	h := newHarness(t)

	assert.NotPanics(t, func() { h.d.Handle(context.Background(), tx("CompleteTrade", "r9")) })
	assert.Equal(t, 0, h.ledger.Len())
	assert.Equal(t, int64(1), h.d.Stats().Handled)
	assert.Zero(t, h.d.Stats().Recovered)
}

func TestDispatcher_TradeEventsAnyOrderAtMostOneEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	events := []domain.NotificationEvent{
		tx("CreateTrade", "r1", "t1"),
		tx("CreateTrade", "r1", "t1"),
		tx("CompleteTrade", "r1"),
		tx("CompleteTrade", "r1"),
		tx("CreateTrade", "r1", "t2"),
	}
	for round := 0; round < 50; round++ {
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
		for _, ev := range events {
			h.d.Handle(ctx, ev)
			assert.LessOrEqual(t, h.ledger.Len(), 1)
		}
		h.d.Handle(ctx, tx("CompleteTrade", "r1"))
	}
	assert.Zero(t, h.d.Stats().Recovered)
}

func TestDispatcher_TransferOnlyKnownParty(t *testing.T) {
	h := newHarness(t)
	h.linkPlayer(t, "steve", "acct-a")
	before := h.fetcher.callCount("acct-a")

	h.d.Handle(context.Background(), tx("Transfer", "", "0xA", "0xB", "", "50"))

	assert.Equal(t, []string{"refresh:acct-a"}, h.runner.scheduledNames())
	errs := h.runner.drain(t)
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, before+1, h.fetcher.callCount("acct-a"))

	// messages only go out from the primary loop
	assert.Empty(t, h.messenger.messages())
	assert.Equal(t, 1, h.loop.StepOnce())

	msgs := h.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "steve", msgs[0].playerID)
	assert.Equal(t, domain.MessageTokenSent, msgs[0].msg.Kind)
	assert.Equal(t, "50", msgs[0].msg.Amount)
	assert.Equal(t, "You have sent 50 tokens.", msgs[0].msg.Text)
}

func TestDispatcher_TransferBetweenKnownPlayers(t *testing.T) {
	h := newHarness(t)
	h.linkPlayer(t, "steve", "acct-a")
	h.linkPlayer(t, "alex", "acct-c")

	h.d.Handle(context.Background(), tx("Transfer", "", "0xa", "0xc", "tok-1", "2"))
	h.runner.drain(t)
	assert.Equal(t, 2, h.loop.StepOnce())

	msgs := h.messenger.messages()
	require.Len(t, msgs, 2)
	byPlayer := map[string]domain.PlayerMessageKind{}
	for _, m := range msgs {
		byPlayer[m.playerID] = m.msg.Kind
	}
	assert.Equal(t, domain.MessageTokenSent, byPlayer["steve"])
	assert.Equal(t, domain.MessageTokenReceived, byPlayer["alex"])
}

func TestDispatcher_TransferMessageAfterFailedRefresh(t *testing.T) {
	h := newHarness(t)
	e := h.linkPlayer(t, "steve", "acct-a")
	snap := e.Snapshot()

	h.fetcher.mu.Lock()
	h.fetcher.fail = true
	h.fetcher.mu.Unlock()

	h.d.Handle(context.Background(), tx("Transfer", "", "0xB", "0xA", "", "1"))
	errs := h.runner.drain(t)
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
	assert.Same(t, snap, e.Snapshot())

	h.loop.StepOnce()
	msgs := h.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageTokenReceived, msgs[0].msg.Kind)
}

func TestDispatcher_TransferWithEmptyPartyHasNoEffect(t *testing.T) {
	h := newHarness(t)
	e := h.linkPlayer(t, "steve", "acct-a")
	snap := e.Snapshot()

	h.d.Handle(context.Background(), tx("Transfer", "", "0xA", "", "", "50"))
	h.d.Handle(context.Background(), tx("Transfer", "", "", "0xA", "", "50"))

	assert.Empty(t, h.runner.scheduledNames())
	assert.Equal(t, 0, h.loop.StepOnce())
	assert.Empty(t, h.messenger.messages())
	assert.Same(t, snap, e.Snapshot())
	assert.Equal(t, int64(2), h.d.Stats().Malformed)
}

func TestDispatcher_IdentityLinkedRefreshesKnownAccount(t *testing.T) {
	h := newHarness(t)
	e := h.linkPlayer(t, "steve", "acct-a")

	h.d.Handle(context.Background(), domain.NotificationEvent{Type: domain.EventIdentityLinked, Data: domain.EventData{ID: "acct-a"}})
	h.d.Handle(context.Background(), domain.NotificationEvent{Type: domain.EventIdentityLinked, Data: domain.EventData{ID: "acct-zzz"}})

	assert.Equal(t, []string{"refresh:acct-a"}, h.runner.scheduledNames())
	h.runner.drain(t)
	assert.Equal(t, 0, h.loop.StepOnce())
	assert.True(t, e.Snapshot().Balance("tok-1").Equal(decimal.NewFromInt(3)))
}

func TestDispatcher_DuplicateIdentityLinkedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	e := h.linkPlayer(t, "steve", "acct-a")
	once := e.Snapshot().Balances

	ev := domain.NotificationEvent{Type: domain.EventIdentityLinked, Data: domain.EventData{ID: "acct-a"}}
	for i := 0; i < 4; i++ {
		h.d.Handle(context.Background(), ev)
	}
	h.runner.drain(t)

	assert.Equal(t, once, e.Snapshot().Balances)
}

func TestDispatcher_UnrecognisedEventsChangeNothing(t *testing.T) {
	h := newHarness(t)
	e := h.linkPlayer(t, "steve", "acct-a")
	h.d.Handle(context.Background(), tx("CreateTrade", "keep", "t"))
	snap := e.Snapshot()

	h.d.Handle(context.Background(), domain.NotificationEvent{Type: "BALANCE_UPDATED", Data: domain.EventData{ID: "acct-a"}})
	h.d.Handle(context.Background(), tx("MeltToken", "keep", "0xA"))
	h.d.Handle(context.Background(), tx("", "keep"))

	assert.Empty(t, h.runner.scheduledNames())
	assert.Equal(t, 1, h.ledger.Len())
	assert.Same(t, snap, e.Snapshot())
	assert.Equal(t, int64(3), h.d.Stats().Unsupported)
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	// a ledger completion hook that panics stands in for any bug on the
	// handling path
	h.d.ledger = ledger.New(discardLogger(), ledger.WithCompletion(func(domain.PendingTrade) {
		panic("hook exploded")
	}))

	h.d.Handle(context.Background(), tx("CreateTrade", "r1", "t1"))
	assert.NotPanics(t, func() { h.d.Handle(context.Background(), tx("CompleteTrade", "r1")) })
	assert.Equal(t, int64(1), h.d.Stats().Recovered)

	// later events still work
	h.d.Handle(context.Background(), tx("CreateTrade", "r2", "t2"))
	_, ok := h.d.ledger.Get("r2")
	assert.True(t, ok)
}

func TestDispatcher_SchedulerRejectionIsCounted(t *testing.T) {
	h := newHarness(t)
	h.linkPlayer(t, "steve", "acct-a")
	h.runner.reject = domain.ErrQueueFull

	h.d.Handle(context.Background(), domain.NotificationEvent{Type: domain.EventIdentityLinked, Data: domain.EventData{ID: "acct-a"}})
	assert.Equal(t, int64(1), h.d.Stats().Dropped)
}

func TestDispatcher_TransferLabelFromCatalog(t *testing.T) {
	h := newHarness(t)
	h.linkPlayer(t, "steve", "acct-a")
	catalog := directory.NewTokenCatalog([]domain.Token{{TokenID: "tok-1", DisplayName: "Gold"}}, discardLogger())
	require.NoError(t, catalog.Load(context.Background(), tokenSource{{TokenID: "tok-1", AppID: 1}}, 1))
	h.d.catalog = catalog

	h.d.Handle(context.Background(), tx("Transfer", "", "0xA", "0xB", "tok-1", "3"))
	h.runner.drain(t)
	h.loop.StepOnce()

	msgs := h.messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "You have sent 3 Gold.", msgs[0].msg.Text)
}

type tokenSource []domain.Token

func (s tokenSource) FetchTokens(context.Context, int) ([]domain.Token, error) { return s, nil }

// Drives the real scheduler and loop end to end.
func TestDispatcher_WithScheduler(t *testing.T) {
	fetcher := &stubFetcher{identities: map[string]domain.Identity{
		"acct-a": {ID: "acct-a", WalletAddress: "0xA", Linked: true},
	}}
	dir := directory.New(fetcher, discardLogger())
	sched := scheduler.New(scheduler.Config{Workers: 2, QueueSize: 16}, discardLogger())
	loop := scheduler.NewLoop(100, 16, discardLogger())
	messenger := &recordingMessenger{}

	d := New(Deps{
		Directory: dir,
		Ledger:    ledger.New(discardLogger()),
		Runner:    sched,
		Primary:   loop,
		Messenger: messenger,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()
	go func() { _ = loop.Run(ctx) }()

	e, err := d.Track("steve", "acct-a")
	require.NoError(t, err)
	require.Eventually(t, e.Loaded, waitFor, tick)

	d.Handle(ctx, tx("Transfer", "", "0xB", "0xA", "", "9"))
	require.Eventually(t, func() bool { return len(messenger.messages()) == 1 }, waitFor, tick)
	assert.Equal(t, domain.MessageTokenReceived, messenger.messages()[0].msg.Kind)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
