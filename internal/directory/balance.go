package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// TokenLine is one numbered row of a balance view.
type TokenLine struct {
	Index    int             `json:"index"`
	TokenID  string          `json:"token_id"`
	Label    string          `json:"label"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BalanceView is what a player sees when asking for their wallet.
type BalanceView struct {
	PlayerID      string          `json:"player_id"`
	AccountID     string          `json:"account_id"`
	Loaded        bool            `json:"loaded"`
	Linked        bool            `json:"linked"`
	LinkingCode   string          `json:"linking_code,omitempty"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	IdentityID    string          `json:"identity_id,omitempty"`
	Eth           decimal.Decimal `json:"eth"`
	Enj           decimal.Decimal `json:"enj"`
	Tokens        []TokenLine     `json:"tokens"`
	FetchedAt     time.Time       `json:"fetched_at,omitzero"`
	// Stale is set when the refresh before this read failed and an older
	// snapshot was shown instead.
	Stale bool `json:"stale"`
}

// Balance refreshes the player's entry and then reads it. A failed refresh
// does not fail the read; the previously installed snapshot is reported
// with Stale set.
func (d *Directory) Balance(ctx context.Context, playerID string, catalog *TokenCatalog) (BalanceView, error) {
	e := d.ResolvePlayer(playerID)
	if e == nil {
		return BalanceView{}, fmt.Errorf("directory: balance %s: %w", playerID, domain.ErrNotFound)
	}

	refreshErr := d.Refresh(ctx, e)
	view := buildView(e, catalog)
	view.Stale = refreshErr != nil
	return view, nil
}

func buildView(e *Entry, catalog *TokenCatalog) BalanceView {
	view := BalanceView{
		PlayerID:  e.PlayerID,
		AccountID: e.AccountID,
		Eth:       decimal.Zero,
		Enj:       decimal.Zero,
		Tokens:    []TokenLine{},
	}

	snap := e.Snapshot()
	if snap == nil {
		return view
	}
	view.Loaded = true
	view.FetchedAt = snap.FetchedAt
	view.IdentityID = snap.Identity.ID
	view.Linked = snap.Identity.Linked
	if !view.Linked {
		view.LinkingCode = snap.Identity.LinkingCode
		return view
	}
	view.WalletAddress = snap.Identity.WalletAddress
	if snap.Identity.EthBalance != nil {
		view.Eth = *snap.Identity.EthBalance
	}
	if snap.Identity.EnjBalance != nil {
		view.Enj = *snap.Identity.EnjBalance
	}

	if catalog == nil {
		return view
	}
	for _, t := range catalog.Tokens() {
		qty := snap.Balance(t.TokenID)
		if !qty.IsPositive() {
			continue
		}
		view.Tokens = append(view.Tokens, TokenLine{
			Index:    len(view.Tokens) + 1,
			TokenID:  t.TokenID,
			Label:    t.Label(),
			Quantity: qty,
		})
	}
	return view
}
