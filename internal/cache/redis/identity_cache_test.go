package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

func TestSnapshotFieldsRoundTrip(t *testing.T) {
	eth := decimal.RequireFromString("0.75")
	snap := domain.WalletSnapshot{
		Identity: domain.Identity{
			ID:            "42",
			WalletAddress: "0xabc",
			Linked:        true,
			EthBalance:    &eth,
		},
		Balances: []domain.WalletBalance{
			{TokenID: "tok-b", Quantity: decimal.RequireFromString("2")},
			{TokenID: "tok-a", Quantity: decimal.RequireFromString("1.5")},
		},
		FetchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	fields, err := snapshotFields(snap)
	require.NoError(t, err)

	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}
	got, err := snapshotFromFields("42", vals)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", got.Identity.WalletAddress)
	assert.True(t, got.Identity.Linked)
	require.NotNil(t, got.Identity.EthBalance)
	assert.True(t, got.Identity.EthBalance.Equal(eth))
	assert.Nil(t, got.Identity.EnjBalance)
	assert.True(t, got.FetchedAt.Equal(snap.FetchedAt))
	require.Len(t, got.Balances, 2)
	assert.Equal(t, "tok-a", got.Balances[0].TokenID)
	assert.True(t, got.Balance("tok-b").Equal(decimal.NewFromInt(2)))
}

func TestSnapshotFromFieldsRejectsGarbage(t *testing.T) {
	_, err := snapshotFromFields("1", map[string]string{"linked": "maybe"})
	assert.Error(t, err)
	_, err = snapshotFromFields("1", map[string]string{"balances": `{"t":"x"}`})
	assert.Error(t, err)
}

func TestPatternMessages(t *testing.T) {
	plain := encodeMessage(&redis.Message{Channel: "notifications", Payload: "hi"})
	assert.Equal(t, []byte("hi"), plain)

	routed := encodeMessage(&redis.Message{Channel: "player:steve", Pattern: "player:*", Payload: `{"kind":"token_sent"}`})
	ch, payload := SplitPatternMessage(routed)
	assert.Equal(t, "player:steve", ch)
	assert.Equal(t, `{"kind":"token_sent"}`, string(payload))

	ch, payload = SplitPatternMessage([]byte("bare"))
	assert.Empty(t, ch)
	assert.Equal(t, "bare", string(payload))
	assert.True(t, hasPattern("player:*"))
	assert.False(t, hasPattern("notifications"))
}
