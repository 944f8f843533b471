package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// IdentityCache implements domain.IdentityCache using Redis hashes. Each
// account's snapshot is stored at "identity:{accountID}" with one field per
// identity attribute and the balances as a JSON object of token id to
// quantity.
type IdentityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdentityCache creates an IdentityCache backed by the given Client.
// A ttl of zero keeps entries until they are overwritten or invalidated.
func NewIdentityCache(c *Client, ttl time.Duration) *IdentityCache {
	return &IdentityCache{rdb: c.Underlying(), ttl: ttl}
}

func identityKey(accountID string) string {
	return "identity:" + accountID
}

// SetSnapshot replaces the stored snapshot for snap.Identity.ID.
func (ic *IdentityCache) SetSnapshot(ctx context.Context, snap domain.WalletSnapshot) error {
	fields, err := snapshotFields(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snap.Identity.ID, err)
	}
	key := identityKey(snap.Identity.ID)

	pipe := ic.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if ic.ttl > 0 {
		pipe.Expire(ctx, key, ic.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Identity.ID, err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot or domain.ErrNotFound.
func (ic *IdentityCache) GetSnapshot(ctx context.Context, accountID string) (domain.WalletSnapshot, error) {
	vals, err := ic.rdb.HGetAll(ctx, identityKey(accountID)).Result()
	if err != nil {
		return domain.WalletSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", accountID, err)
	}
	if len(vals) == 0 {
		return domain.WalletSnapshot{}, domain.ErrNotFound
	}
	snap, err := snapshotFromFields(accountID, vals)
	if err != nil {
		return domain.WalletSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", accountID, err)
	}
	return snap, nil
}

// Invalidate removes the stored snapshot.
func (ic *IdentityCache) Invalidate(ctx context.Context, accountID string) error {
	if err := ic.rdb.Del(ctx, identityKey(accountID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", accountID, err)
	}
	return nil
}

func snapshotFields(snap domain.WalletSnapshot) (map[string]interface{}, error) {
	balances := make(map[string]string, len(snap.Balances))
	for _, b := range snap.Balances {
		balances[b.TokenID] = b.Quantity.String()
	}
	balJSON, err := json.Marshal(balances)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"wallet":       snap.Identity.WalletAddress,
		"linked":       strconv.FormatBool(snap.Identity.Linked),
		"linking_code": snap.Identity.LinkingCode,
		"balances":     string(balJSON),
		"ts":           strconv.FormatInt(snap.FetchedAt.UnixNano(), 10),
	}
	if snap.Identity.EthBalance != nil {
		fields["eth"] = snap.Identity.EthBalance.String()
	}
	if snap.Identity.EnjBalance != nil {
		fields["enj"] = snap.Identity.EnjBalance.String()
	}
	return fields, nil
}

func snapshotFromFields(accountID string, vals map[string]string) (domain.WalletSnapshot, error) {
	snap := domain.WalletSnapshot{
		Identity: domain.Identity{
			ID:            accountID,
			WalletAddress: vals["wallet"],
			LinkingCode:   vals["linking_code"],
		},
	}

	if v, ok := vals["linked"]; ok {
		linked, err := strconv.ParseBool(v)
		if err != nil {
			return snap, fmt.Errorf("linked: %w", err)
		}
		snap.Identity.Linked = linked
	}
	for field, dst := range map[string]**decimal.Decimal{
		"eth": &snap.Identity.EthBalance,
		"enj": &snap.Identity.EnjBalance,
	} {
		v, ok := vals[field]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return snap, fmt.Errorf("%s: %w", field, err)
		}
		*dst = &d
	}

	if v, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("ts: %w", err)
		}
		snap.FetchedAt = time.Unix(0, ns).UTC()
	}

	if v := vals["balances"]; v != "" {
		var balances map[string]string
		if err := json.Unmarshal([]byte(v), &balances); err != nil {
			return snap, fmt.Errorf("balances: %w", err)
		}
		for token, q := range balances {
			qty, err := decimal.NewFromString(q)
			if err != nil {
				return snap, fmt.Errorf("balance %s: %w", token, err)
			}
			snap.Balances = append(snap.Balances, domain.WalletBalance{TokenID: token, Quantity: qty})
		}
		sort.Slice(snap.Balances, func(i, j int) bool {
			return snap.Balances[i].TokenID < snap.Balances[j].TokenID
		})
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.IdentityCache = (*IdentityCache)(nil)
