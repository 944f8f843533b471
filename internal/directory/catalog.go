package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// TokenCatalog holds metadata for the tokens the operator has chosen to
// show players. Only configured tokens that the platform reports for the
// app are kept, in configuration order.
type TokenCatalog struct {
	mu         sync.RWMutex
	configured []domain.Token
	tokens     map[string]domain.Token
	order      []string
	logger     *slog.Logger
}

// NewTokenCatalog creates a catalog for the configured tokens. Only TokenID
// and DisplayName of each configured token are used.
func NewTokenCatalog(configured []domain.Token, logger *slog.Logger) *TokenCatalog {
	return &TokenCatalog{
		configured: configured,
		tokens:     make(map[string]domain.Token),
		logger:     logger.With(slog.String("component", "token_catalog")),
	}
}

// Load fetches every token registered to appID and replaces the catalog
// contents with the configured subset.
func (c *TokenCatalog) Load(ctx context.Context, fetcher domain.TokenFetcher, appID int) error {
	remote, err := fetcher.FetchTokens(ctx, appID)
	if err != nil {
		return fmt.Errorf("directory: load tokens for app %d: %w", appID, err)
	}

	byID := make(map[string]domain.Token, len(remote))
	for _, t := range remote {
		if t.AppID != 0 && t.AppID != appID {
			continue
		}
		byID[strings.ToLower(t.TokenID)] = t
	}

	tokens := make(map[string]domain.Token, len(c.configured))
	order := make([]string, 0, len(c.configured))
	for _, want := range c.configured {
		key := strings.ToLower(want.TokenID)
		t, ok := byID[key]
		if !ok {
			c.logger.Warn("configured token not registered to app",
				slog.String("token_id", want.TokenID),
				slog.Int("app_id", appID),
			)
			continue
		}
		if _, dup := tokens[key]; dup {
			continue
		}
		t.DisplayName = want.DisplayName
		tokens[key] = t
		order = append(order, key)
	}

	c.mu.Lock()
	c.tokens = tokens
	c.order = order
	c.mu.Unlock()

	c.logger.Info("token catalog loaded",
		slog.Int("app_id", appID),
		slog.Int("remote", len(remote)),
		slog.Int("kept", len(order)),
	)
	return nil
}

// Lookup returns the token with the given id.
func (c *TokenCatalog) Lookup(tokenID string) (domain.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[strings.ToLower(strings.TrimSpace(tokenID))]
	return t, ok
}

// Label returns the player-facing name for tokenID, falling back to the id.
func (c *TokenCatalog) Label(tokenID string) string {
	if t, ok := c.Lookup(tokenID); ok {
		return t.Label()
	}
	return tokenID
}

// Tokens returns the catalog in configuration order.
func (c *TokenCatalog) Tokens() []domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Token, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.tokens[key])
	}
	return out
}
