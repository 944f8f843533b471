package enjin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// graphQLServer answers by matching the root field name in the query.
func graphQLServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for field, body := range responses {
			if strings.Contains(req.Query, field+"(") {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
				return
			}
		}
		http.Error(w, "unexpected query", http.StatusBadRequest)
	}))
}

func TestClient_FetchIdentityLinked(t *testing.T) {
	srv := graphQLServer(t, map[string]string{
		"EnjinIdentities": `{"data":{"EnjinIdentities":[{"id":42,"linkingCode":"","wallet":{"ethAddress":"0xabc","ethBalance":"1.25","enjBalance":null}}]}}`,
	})
	defer srv.Close()

	c := NewClient(ClientConfig{GraphQLURL: srv.URL, AppID: 7})
	ident, err := c.FetchIdentity(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", ident.ID)
	assert.True(t, ident.Linked)
	assert.Equal(t, "0xabc", ident.WalletAddress)
	require.NotNil(t, ident.EthBalance)
	assert.True(t, ident.EthBalance.Equal(decimal.RequireFromString("1.25")))
	assert.Nil(t, ident.EnjBalance)
}

func TestClient_FetchIdentityUnlinkedAndMissing(t *testing.T) {
	srv := graphQLServer(t, map[string]string{
		"EnjinIdentities": `{"data":{"EnjinIdentities":[{"id":"9","linkingCode":"XYZ","wallet":null}]}}`,
	})
	defer srv.Close()

	c := NewClient(ClientConfig{GraphQLURL: srv.URL})
	ident, err := c.FetchIdentity(context.Background(), "9")
	require.NoError(t, err)
	assert.False(t, ident.Linked)
	assert.Equal(t, "XYZ", ident.LinkingCode)

	empty := graphQLServer(t, map[string]string{"EnjinIdentities": `{"data":{"EnjinIdentities":[]}}`})
	defer empty.Close()
	_, err = NewClient(ClientConfig{GraphQLURL: empty.URL}).FetchIdentity(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_FetchBalancesAndTokens(t *testing.T) {
	srv := graphQLServer(t, map[string]string{
		"EnjinBalances": `{"data":{"EnjinBalances":[{"tokenId":"tok-1","balance":"3"},{"tokenId":"tok-2","balance":"0.5"}]}}`,
		"EnjinTokens":   `{"data":{"EnjinTokens":[{"id":"tok-1","appId":7,"name":"Sword"}]}}`,
	})
	defer srv.Close()

	c := NewClient(ClientConfig{GraphQLURL: srv.URL, AppID: 7})
	bals, err := c.FetchBalances(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, bals, 2)
	assert.Equal(t, "tok-2", bals[1].TokenID)
	assert.True(t, bals[1].Quantity.Equal(decimal.RequireFromString("0.5")))

	tokens, err := c.FetchTokens(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []domain.Token{{TokenID: "tok-1", AppID: 7, Name: "Sword"}}, tokens)
}

func TestClient_GraphQLAndHTTPErrors(t *testing.T) {
	gqlErr := graphQLServer(t, map[string]string{"EnjinTokens": `{"errors":[{"message":"boom"}]}`})
	defer gqlErr.Close()
	_, err := NewClient(ClientConfig{GraphQLURL: gqlErr.URL}).FetchTokens(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	_, err = NewClient(ClientConfig{GraphQLURL: limited.URL}).FetchTokens(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestClient_AuthenticatesAndRetriesOnce(t *testing.T) {
	var authCalls, queryCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if strings.Contains(req.Query, "AuthApp(") {
			n := authCalls.Add(1)
			assert.Equal(t, "s3cret", req.Variables["secret"])
			_, _ = w.Write([]byte(`{"data":{"AuthApp":{"accessToken":"tok-` + string(rune('0'+n)) + `","expiresIn":3600}}}`))
			return
		}

		n := queryCalls.Add(1)
		// first token is rejected as expired
		if n == 1 {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"EnjinTokens":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{GraphQLURL: srv.URL, AppID: 7, AppSecret: "s3cret"})
	_, err := c.FetchTokens(context.Background(), 7)
	require.NoError(t, err)

	// cached token is reused
	_, err = c.FetchTokens(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), authCalls.Load())
	assert.Equal(t, int32(3), queryCalls.Load())
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	srv := graphQLServer(t, map[string]string{"EnjinTokens": `{"data":{"EnjinTokens":[]}}`})
	defer srv.Close()

	c := NewClient(ClientConfig{GraphQLURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})
	_, err := c.FetchTokens(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchTokens(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
