package domain

import "strings"

// EventType is the coarse notification kind reported by the platform.
type EventType string

const (
	EventTxExecuted     EventType = "TX_EXECUTED"
	EventIdentityLinked EventType = "IDENTITY_LINKED"
)

// ParseEventType normalises a wire value. Unknown values are returned as-is
// so callers can ignore them without losing the original text in logs.
func ParseEventType(s string) EventType {
	return EventType(strings.ToUpper(strings.TrimSpace(s)))
}

// TxSubtype discriminates TX_EXECUTED events. The set is closed; anything
// the platform sends that is not listed maps to TxSubtypeUnknown.
type TxSubtype int

const (
	TxSubtypeUnknown TxSubtype = iota
	TxSubtypeCreateTrade
	TxSubtypeCompleteTrade
	TxSubtypeTransfer
)

var txSubtypeNames = map[string]TxSubtype{
	"CreateTrade":   TxSubtypeCreateTrade,
	"CompleteTrade": TxSubtypeCompleteTrade,
	"Transfer":      TxSubtypeTransfer,
}

// ParseTxSubtype maps the platform's subtype string to the closed enum.
// Matching is exact: the platform schema is case-sensitive.
func ParseTxSubtype(s string) TxSubtype {
	if st, ok := txSubtypeNames[strings.TrimSpace(s)]; ok {
		return st
	}
	return TxSubtypeUnknown
}

func (s TxSubtype) String() string {
	switch s {
	case TxSubtypeCreateTrade:
		return "CreateTrade"
	case TxSubtypeCompleteTrade:
		return "CompleteTrade"
	case TxSubtypeTransfer:
		return "Transfer"
	default:
		return "unknown"
	}
}

// NotificationEvent is a single inbound notification. It is consumed once by
// the dispatcher and never retained.
type NotificationEvent struct {
	Type    EventType `json:"type"`
	Channel string    `json:"channel,omitempty"`
	// Subtype is the raw TX_EXECUTED discriminator, e.g. "CreateTrade".
	Subtype string    `json:"subtype,omitempty"`
	Data    EventData `json:"data"`
}

// EventData carries the subtype-dependent payload fields.
type EventData struct {
	// ID is the platform account (identity) id for IDENTITY_LINKED.
	ID            string   `json:"id,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty"`
	// Params holds param1..paramN in order.
	Params        []string `json:"params,omitempty"`
}

// Param returns the 1-indexed positional parameter, or "" when absent.
func (d EventData) Param(n int) string {
	if n < 1 || n > len(d.Params) {
		return ""
	}
	return strings.TrimSpace(d.Params[n-1])
}
