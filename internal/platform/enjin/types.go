package enjin

import (
	"strings"

	json "github.com/goccy/go-json"
)

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// identityJSON is one element of EnjinIdentities.
type identityJSON struct {
	ID          flexString `json:"id"`
	LinkingCode string     `json:"linkingCode"`
	Wallet      *struct {
		EthAddress string  `json:"ethAddress"`
		EthBalance *string `json:"ethBalance"`
		EnjBalance *string `json:"enjBalance"`
	} `json:"wallet"`
}

type balanceJSON struct {
	TokenID string `json:"tokenId"`
	Balance string `json:"balance"`
}

type tokenJSON struct {
	ID    string `json:"id"`
	AppID int    `json:"appId"`
	Name  string `json:"name"`
}

type authJSON struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// flexString accepts either a JSON string or number. The platform reports
// ids as integers while this service treats them as opaque strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Push stream frames. The platform speaks the Pusher protocol: every frame
// is {event, channel, data} where data is itself a JSON-encoded string.
type pusherFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    string `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

// eventPayload is the decoded data of a notification frame.
type eventPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID            flexString `json:"id"`
		TransactionID flexString `json:"transaction_id"`
		Param1        flexString `json:"param1"`
		Param2        flexString `json:"param2"`
		Param3        flexString `json:"param3"`
		Param4        flexString `json:"param4"`
	} `json:"data"`
}
