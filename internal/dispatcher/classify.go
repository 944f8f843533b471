package dispatcher

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// Outcome is the result of validating an event before any state is touched.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeMalformed
	OutcomeUnsupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unsupported"
	}
}

// ActionKind is the state change a valid event asks for.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionRefreshIdentity
	ActionBeginTrade
	ActionCompleteTrade
	ActionTransfer
)

// Action carries the fields extracted for one ActionKind. Only the fields
// relevant to Kind are set.
type Action struct {
	Kind ActionKind

	AccountID string

	RequestID string
	TradeID   string

	From    string
	To      string
	TokenID string
	// Amount is the raw amount text; AmountValue is set when it parses.
	Amount      string
	AmountValue *decimal.Decimal
}

// Classification is the structured result of Classify.
type Classification struct {
	Outcome Outcome
	Action  Action
	Reason  string
}

func malformed(reason string) Classification {
	return Classification{Outcome: OutcomeMalformed, Reason: reason}
}

func unsupported(reason string) Classification {
	return Classification{Outcome: OutcomeUnsupported, Reason: reason}
}

func valid(a Action) Classification {
	return Classification{Outcome: OutcomeValid, Action: a}
}

// Classify validates ev and extracts the action it requests. It is pure.
//
// Field layout per subtype:
//
//	IDENTITY_LINKED        data.id = account id
//	TX_EXECUTED/CreateTrade    transactionId = request id, param1 = trade id
//	TX_EXECUTED/CompleteTrade  transactionId = request id
//	TX_EXECUTED/Transfer       param1 = from, param2 = to, param3 = token, param4 = amount
func Classify(ev domain.NotificationEvent) Classification {
	switch ev.Type {
	case domain.EventIdentityLinked:
		id := trim(ev.Data.ID)
		if id == "" {
			return malformed("identity event without account id")
		}
		return valid(Action{Kind: ActionRefreshIdentity, AccountID: id})

	case domain.EventTxExecuted:
		return classifyTx(ev)

	default:
		return unsupported("event type " + string(ev.Type))
	}
}

func classifyTx(ev domain.NotificationEvent) Classification {
	if ev.Subtype == "" {
		return unsupported("transaction event without subtype")
	}

	d := ev.Data
	switch domain.ParseTxSubtype(ev.Subtype) {
	case domain.TxSubtypeCreateTrade:
		reqID, tradeID := trim(d.TransactionID), d.Param(1)
		if reqID == "" || tradeID == "" {
			return malformed("create trade requires request id and trade id")
		}
		return valid(Action{Kind: ActionBeginTrade, RequestID: reqID, TradeID: tradeID})

	case domain.TxSubtypeCompleteTrade:
		reqID := trim(d.TransactionID)
		if reqID == "" {
			return malformed("complete trade requires request id")
		}
		return valid(Action{Kind: ActionCompleteTrade, RequestID: reqID})

	case domain.TxSubtypeTransfer:
		from, to := d.Param(1), d.Param(2)
		if from == "" || to == "" {
			return malformed("transfer requires source and destination")
		}
		a := Action{
			Kind:    ActionTransfer,
			From:    from,
			To:      to,
			TokenID: d.Param(3),
			Amount:  d.Param(4),
		}
		if v, err := decimal.NewFromString(a.Amount); err == nil {
			a.AmountValue = &v
		}
		return valid(a)

	default:
		return unsupported("transaction subtype " + ev.Subtype)
	}
}
