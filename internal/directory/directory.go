// Package directory maps in-game players to platform accounts and caches
// the wallet snapshot of each account.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// Directory is the sole owner of player entries and their snapshots. All
// lookups are by a single key and never create entries.
type Directory struct {
	mu        sync.RWMutex
	players   map[string]*Entry
	accounts  map[string]*Entry
	addresses map[string]*Entry

	fetcher domain.IdentityFetcher
	cache   domain.IdentityCache // optional
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache mirrors every installed snapshot into cache.
func WithCache(cache domain.IdentityCache) Option {
	return func(d *Directory) { d.cache = cache }
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// New creates an empty Directory that refreshes through fetcher.
func New(fetcher domain.IdentityFetcher, logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		players:   make(map[string]*Entry),
		accounts:  make(map[string]*Entry),
		addresses: make(map[string]*Entry),
		fetcher:   fetcher,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "player_directory")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register creates or replaces the entry for playerID. Registering the same
// player with the same account returns the existing entry unchanged.
func (d *Directory) Register(playerID, accountID string) (*Entry, error) {
	playerID = strings.TrimSpace(playerID)
	accountID = strings.TrimSpace(accountID)
	if playerID == "" || accountID == "" {
		return nil, fmt.Errorf("directory: register: player and account id required: %w", domain.ErrMalformedEvent)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.players[playerID]; ok {
		if cur.AccountID == accountID {
			return cur, nil
		}
		d.removeLocked(cur)
	}
	if other, ok := d.accounts[accountID]; ok {
		d.removeLocked(other)
	}

	e := &Entry{PlayerID: playerID, AccountID: accountID}
	d.players[playerID] = e
	d.accounts[accountID] = e
	d.logger.Info("player registered",
		slog.String("player_id", playerID),
		slog.String("account_id", accountID),
	)
	return e, nil
}

// Unregister drops the entry for playerID. It reports whether one existed.
func (d *Directory) Unregister(playerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.players[strings.TrimSpace(playerID)]
	if !ok {
		return false
	}
	d.removeLocked(e)
	d.logger.Info("player unregistered", slog.String("player_id", e.PlayerID))
	return true
}

func (d *Directory) removeLocked(e *Entry) {
	delete(d.players, e.PlayerID)
	if d.accounts[e.AccountID] == e {
		delete(d.accounts, e.AccountID)
	}
	if addr := e.WalletAddress(); addr != "" && d.addresses[addr] == e {
		delete(d.addresses, addr)
	}
}

// ResolvePlayer returns the entry for an in-game player id, or nil.
func (d *Directory) ResolvePlayer(playerID string) *Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.players[strings.TrimSpace(playerID)]
}

// ResolveAccount returns the entry for a platform account id, or nil.
func (d *Directory) ResolveAccount(accountID string) *Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.accounts[strings.TrimSpace(accountID)]
}

// ResolveAddress returns the entry whose last installed snapshot is linked
// to addr, or nil. Address comparison is case-insensitive.
func (d *Directory) ResolveAddress(addr string) *Entry {
	key := domain.NormalizeAddress(addr)
	if key == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addresses[key]
}

// Len returns the number of registered players.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players)
}

// Refresh fetches identity and balances for e and installs them as a new
// snapshot. On failure the previous snapshot is kept and the error is
// returned for the caller's bookkeeping only. Concurrent refreshes of the
// same entry are not ordered: the last one to finish wins.
func (d *Directory) Refresh(ctx context.Context, e *Entry) error {
	if e == nil {
		return nil
	}

	ident, err := d.fetcher.FetchIdentity(ctx, e.AccountID)
	if err != nil {
		d.logger.Warn("identity refresh failed",
			slog.String("account_id", e.AccountID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("directory: refresh %s: identity: %w", e.AccountID, err)
	}

	var balances []domain.WalletBalance
	if ident.Linked {
		balances, err = d.fetcher.FetchBalances(ctx, e.AccountID)
		if err != nil {
			d.logger.Warn("balance refresh failed",
				slog.String("account_id", e.AccountID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("directory: refresh %s: balances: %w", e.AccountID, err)
		}
	}

	snap := &domain.WalletSnapshot{
		Identity:  ident,
		Balances:  sanitize(balances),
		FetchedAt: d.now().UTC(),
	}
	d.install(e, snap)

	if d.cache != nil {
		if err := d.cache.SetSnapshot(ctx, *snap); err != nil {
			d.logger.Warn("snapshot mirror failed",
				slog.String("account_id", e.AccountID),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.Debug("identity refreshed",
		slog.String("player_id", e.PlayerID),
		slog.String("account_id", e.AccountID),
		slog.Bool("linked", ident.Linked),
		slog.Int("balances", len(snap.Balances)),
	)
	return nil
}

// install swaps the snapshot and keeps the address index in step. Entries
// that were unregistered while a refresh was in flight are updated but not
// re-indexed.
func (d *Directory) install(e *Entry, snap *domain.WalletSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldAddr := e.WalletAddress()
	e.snapshot.Store(snap)
	newAddr := e.WalletAddress()

	if oldAddr != "" && oldAddr != newAddr && d.addresses[oldAddr] == e {
		delete(d.addresses, oldAddr)
	}
	if newAddr != "" && d.players[e.PlayerID] == e {
		d.addresses[newAddr] = e
	}
}

// sanitize drops negative quantities; the platform never reports them for a
// real wallet.
func sanitize(in []domain.WalletBalance) []domain.WalletBalance {
	out := make([]domain.WalletBalance, 0, len(in))
	for _, b := range in {
		if b.Quantity.IsNegative() {
			continue
		}
		out = append(out, b)
	}
	return out
}
