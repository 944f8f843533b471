package domain

import "time"

// TradeState is the lifecycle state of a pending trade.
type TradeState string

const (
	TradeStateCreated   TradeState = "CREATED"
	TradeStateCompleted TradeState = "COMPLETED"
)

// PendingTrade correlates a platform trade with the request id supplied when
// the trade was initiated.
type PendingTrade struct {
	RequestID   string
	TradeID     string
	State       TradeState
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Token is platform metadata for a token registered to the app.
type Token struct {
	TokenID     string
	AppID       int
	Name        string
	DisplayName string // from local configuration, may be empty
}

// Label returns the name shown to players.
func (t Token) Label() string {
	switch {
	case t.DisplayName != "":
		return t.DisplayName
	case t.Name != "":
		return t.Name
	default:
		return t.TokenID
	}
}
