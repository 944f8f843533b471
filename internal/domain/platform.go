package domain

import "context"

// IdentityFetcher reads identity and wallet state from the platform.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, accountID string) (Identity, error)
	FetchBalances(ctx context.Context, accountID string) ([]WalletBalance, error)
}

// TokenFetcher lists token metadata registered to an app.
type TokenFetcher interface {
	FetchTokens(ctx context.Context, appID int) ([]Token, error)
}

// PlayerMessenger delivers a message to an in-game player. Implementations
// are only called from the primary loop.
type PlayerMessenger interface {
	NotifyPlayer(ctx context.Context, playerID string, msg PlayerMessage) error
}

// PlayerMessageKind classifies player-facing messages.
type PlayerMessageKind string

const (
	MessageTokenSent     PlayerMessageKind = "token_sent"
	MessageTokenReceived PlayerMessageKind = "token_received"
)

// PlayerMessage is a formatted player notification.
type PlayerMessage struct {
	Kind    PlayerMessageKind `json:"kind"`
	Text    string            `json:"text"`
	Amount  string            `json:"amount,omitempty"`
	TokenID string            `json:"token_id,omitempty"`
}
