package enjin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/crypto"
	"github.com/alanyoungcy/walletlink/internal/domain"
)

func TestDecodeEvent(t *testing.T) {
	data := `{"event_type":"Transfer","data":{"param1":"0xA","param2":"0xB","param3":"tok","param4":50,"transaction_id":123}}`
	ev, err := DecodeEvent(`EnjinCloud\Events\TransactionExecuted`, "enjincloud.app.7", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, domain.EventTxExecuted, ev.Type)
	assert.Equal(t, "Transfer", ev.Subtype)
	assert.Equal(t, "enjincloud.app.7", ev.Channel)
	assert.Equal(t, "123", ev.Data.TransactionID)
	assert.Equal(t, []string{"0xA", "0xB", "tok", "50"}, ev.Data.Params)

	ev, err = DecodeEvent("IdentityLinked", "c", []byte(`{"data":{"id":5}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventIdentityLinked, ev.Type)
	assert.Equal(t, "5", ev.Data.ID)
	assert.Empty(t, ev.Data.Params)

	ev, err = DecodeEvent("AppCreated", "c", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventType("APPCREATED"), ev.Type)

	_, err = DecodeEvent("IdentityLinked", "c", []byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestStream_SubscribesAndDeliversEvents(t *testing.T) {
	auth := &crypto.ChannelAuth{Key: "key", Secret: "secret"}
	subscribed := make(chan subscribeData, 2)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		est, _ := json.Marshal(connectionEstablished{SocketID: "1.2", ActivityTimeout: 30})
		_ = conn.WriteJSON(pusherFrame{Event: evConnectionEstablished, Data: string(est)})

		for i := 0; i < 2; i++ {
			var f struct {
				Event string        `json:"event"`
				Data  subscribeData `json:"data"`
			}
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			subscribed <- f.Data
		}

		payload := `{"event_type":"CreateTrade","data":{"transaction_id":"r1","param1":"t1"}}`
		_ = conn.WriteJSON(pusherFrame{Event: "EnjinCloud\\Events\\TransactionExecuted", Channel: "private-app.7", Data: payload})

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	events := make(chan domain.NotificationEvent, 1)
	s := NewStream(StreamConfig{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Channels: []string{"enjincloud.app.7", "private-app.7"},
		Auth:     auth,
	}, func(_ context.Context, ev domain.NotificationEvent) { events <- ev }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	public := <-subscribed
	assert.Equal(t, "enjincloud.app.7", public.Channel)
	assert.Empty(t, public.Auth)
	private := <-subscribed
	assert.Equal(t, auth.Sign("1.2", "private-app.7"), private.Auth)

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventTxExecuted, ev.Type)
		assert.Equal(t, "CreateTrade", ev.Subtype)
		assert.Equal(t, "r1", ev.Data.TransactionID)
		assert.Equal(t, "t1", ev.Data.Param(1))
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	assert.True(t, s.Connected())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestValidateStreamConfig(t *testing.T) {
	assert.Error(t, ValidateStreamConfig(StreamConfig{}))
	assert.ErrorIs(t, ValidateStreamConfig(StreamConfig{URL: "wss://x"}), ErrNoChannels)
	assert.NoError(t, ValidateStreamConfig(StreamConfig{URL: "wss://x", Channels: []string{"a"}}))
}
