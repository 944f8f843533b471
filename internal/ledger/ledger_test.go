package ledger

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedger_BeginThenComplete(t *testing.T) {
	var completed []domain.PendingTrade
	l := New(discardLogger(), WithCompletion(func(tr domain.PendingTrade) {
		completed = append(completed, tr)
	}))

	l.BeginTrade("r1", "t1")
	require.Equal(t, 1, l.Len())

	tr, ok := l.CompleteTrade("r1")
	require.True(t, ok)
	assert.Equal(t, domain.TradeStateCompleted, tr.State)
	assert.Equal(t, "t1", tr.TradeID)
	assert.False(t, tr.CompletedAt.IsZero())

	_, ok = l.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
	require.Len(t, completed, 1)
	assert.Equal(t, "r1", completed[0].RequestID)
}

func TestLedger_CompleteUnknownIsNoop(t *testing.T) {
	calls := 0
	l := New(discardLogger(), WithCompletion(func(domain.PendingTrade) { calls++ }))

	_, ok := l.CompleteTrade("r9")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, calls)
}

func TestLedger_DuplicateBeginOverwrites(t *testing.T) {
	l := New(discardLogger())
	l.BeginTrade("r1", "t1")
	l.BeginTrade("r1", "t2")

	require.Equal(t, 1, l.Len())
	tr, ok := l.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "t2", tr.TradeID)
	assert.Equal(t, domain.TradeStateCreated, tr.State)
}

func TestLedger_CompleteBeforeBegin(t *testing.T) {
	l := New(discardLogger())

	_, ok := l.CompleteTrade("r1")
	assert.False(t, ok)

	// The late creation is tracked; nothing remembers the earlier completion.
	l.BeginTrade("r1", "t1")
	assert.Equal(t, 1, l.Len())
}

// Any interleaving of begin/complete events for one request id leaves at
// most one entry behind.
func TestLedger_AtMostOneEntryPerRequest(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		l := New(discardLogger())
		for i := 0; i < 1+rng.Intn(12); i++ {
			if rng.Intn(2) == 0 {
				l.BeginTrade("r1", "t1")
			} else {
				l.CompleteTrade("r1")
			}
			require.LessOrEqual(t, l.Len(), 1)
		}
	}
}

func TestLedger_ConcurrentDistinctKeys(t *testing.T) {
	l := New(discardLogger())
	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.BeginTrade(id, "t")
				l.CompleteTrade(id)
			}
			l.BeginTrade(id, "final")
		}(id)
	}
	wg.Wait()

	assert.Equal(t, len(ids), l.Len())
	for _, id := range ids {
		tr, ok := l.Get(id)
		require.True(t, ok)
		assert.Equal(t, "final", tr.TradeID)
	}
}

func TestLedger_Expire(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(discardLogger(), WithClock(func() time.Time { return now }))

	l.BeginTrade("old", "t1")
	now = now.Add(2 * time.Hour)
	l.BeginTrade("new", "t2")

	assert.Equal(t, 0, l.Expire(0))
	assert.Equal(t, 1, l.Expire(time.Hour))

	_, ok := l.Get("old")
	assert.False(t, ok)
	_, ok = l.Get("new")
	assert.True(t, ok)
}

func TestLedger_PendingOrderedByCreation(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(discardLogger(), WithClock(func() time.Time { return now }))

	l.BeginTrade("b", "t")
	now = now.Add(time.Second)
	l.BeginTrade("a", "t")

	pending := l.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].RequestID)
	assert.Equal(t, "a", pending[1].RequestID)
}
