// Package enjin talks to the Enjin Cloud platform: a GraphQL endpoint for
// identity, balance and token queries, and a push stream for notifications.
package enjin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.IdentityFetcher = (*Client)(nil)
	_ domain.TokenFetcher    = (*Client)(nil)
)

// ClientConfig configures a Client.
type ClientConfig struct {
	GraphQLURL string
	AppID      int
	AppSecret  string
	// RequestsPerSecond throttles outgoing queries; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client is a GraphQL client for the Enjin Cloud API. It authenticates as
// the configured app and caches the access token until shortly before it
// expires.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates a new Enjin Cloud client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

const identityQuery = `
	query Identity($id: String!) {
		EnjinIdentities(id: $id) {
			id
			linkingCode
			wallet {
				ethAddress
				ethBalance
				enjBalance
			}
		}
	}
`

// FetchIdentity returns the identity for accountID.
func (c *Client) FetchIdentity(ctx context.Context, accountID string) (domain.Identity, error) {
	data, err := c.doQuery(ctx, identityQuery, map[string]any{"id": accountID})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("enjin: fetch identity %s: %w", accountID, err)
	}

	var result struct {
		Identities []identityJSON `json:"EnjinIdentities"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.Identity{}, fmt.Errorf("enjin: decode identity: %w", err)
	}
	if len(result.Identities) == 0 {
		return domain.Identity{}, fmt.Errorf("enjin: identity %s: %w", accountID, domain.ErrNotFound)
	}

	raw := result.Identities[0]
	ident := domain.Identity{
		ID:          string(raw.ID),
		LinkingCode: raw.LinkingCode,
	}
	if raw.Wallet != nil && raw.Wallet.EthAddress != "" {
		ident.WalletAddress = raw.Wallet.EthAddress
		ident.Linked = true
		ident.EthBalance = parseOptional(raw.Wallet.EthBalance)
		ident.EnjBalance = parseOptional(raw.Wallet.EnjBalance)
	}
	return ident, nil
}

const balancesQuery = `
	query Balances($id: String!, $appId: Int!) {
		EnjinBalances(identityId: $id, appId: $appId) {
			tokenId
			balance
		}
	}
`

// FetchBalances returns the app's token balances held by accountID's wallet.
func (c *Client) FetchBalances(ctx context.Context, accountID string) ([]domain.WalletBalance, error) {
	data, err := c.doQuery(ctx, balancesQuery, map[string]any{"id": accountID, "appId": c.cfg.AppID})
	if err != nil {
		return nil, fmt.Errorf("enjin: fetch balances %s: %w", accountID, err)
	}

	var result struct {
		Balances []balanceJSON `json:"EnjinBalances"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("enjin: decode balances: %w", err)
	}

	out := make([]domain.WalletBalance, 0, len(result.Balances))
	for _, b := range result.Balances {
		qty, err := decimal.NewFromString(strings.TrimSpace(b.Balance))
		if err != nil {
			return nil, fmt.Errorf("enjin: balance for token %s: %w", b.TokenID, err)
		}
		out = append(out, domain.WalletBalance{TokenID: b.TokenID, Quantity: qty})
	}
	return out, nil
}

const tokensQuery = `
	query Tokens($appId: Int!) {
		EnjinTokens(appId: $appId) {
			id
			appId
			name
		}
	}
`

// FetchTokens lists the tokens registered to appID.
func (c *Client) FetchTokens(ctx context.Context, appID int) ([]domain.Token, error) {
	data, err := c.doQuery(ctx, tokensQuery, map[string]any{"appId": appID})
	if err != nil {
		return nil, fmt.Errorf("enjin: fetch tokens: %w", err)
	}

	var result struct {
		Tokens []tokenJSON `json:"EnjinTokens"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("enjin: decode tokens: %w", err)
	}

	out := make([]domain.Token, 0, len(result.Tokens))
	for _, t := range result.Tokens {
		out = append(out, domain.Token{TokenID: t.ID, AppID: t.AppID, Name: t.Name})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

const authQuery = `
	query Auth($id: Int!, $secret: String!) {
		AuthApp(id: $id, secret: $secret) {
			accessToken
			expiresIn
		}
	}
`

// token returns a cached access token, authenticating when needed.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.cfg.AppSecret == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	data, err := c.post(ctx, "", authQuery, map[string]any{"id": c.cfg.AppID, "secret": c.cfg.AppSecret})
	if err != nil {
		return "", fmt.Errorf("authenticate app %d: %w", c.cfg.AppID, err)
	}
	var result struct {
		Auth authJSON `json:"AuthApp"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode auth: %w", err)
	}
	if result.Auth.AccessToken == "" {
		return "", fmt.Errorf("authenticate app %d: %w", c.cfg.AppID, domain.ErrUnauthorized)
	}

	ttl := time.Duration(result.Auth.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.accessToken = result.Auth.AccessToken
	c.expiresAt = time.Now().Add(ttl - ttl/10)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// doQuery authenticates and runs query, re-authenticating once when the
// cached token has been rejected.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		data, err := c.post(ctx, tok, query, variables)
		if err != nil && attempt == 0 && tok != "" && isUnauthorized(err) {
			c.invalidateToken()
			continue
		}
		return data, err
	}
}

// post executes a GraphQL query and returns the raw "data" field.
func (c *Client) post(ctx context.Context, bearer, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}

	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GraphQLURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrRateLimited)
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msg := gqlResp.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "unauthorized") {
			return nil, fmt.Errorf("graphql error: %s: %w", msg, domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("graphql error: %s", msg)
	}
	return gqlResp.Data, nil
}

func isUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}

func parseOptional(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &v
}
