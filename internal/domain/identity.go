package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Identity is the platform's view of a player's linked account.
type Identity struct {
	ID            string
	WalletAddress string // empty until a wallet is linked
	Linked        bool
	LinkingCode   string
	EthBalance    *decimal.Decimal
	EnjBalance    *decimal.Decimal
}

// WalletBalance is the quantity of one token held by a wallet.
type WalletBalance struct {
	TokenID  string
	Quantity decimal.Decimal
}

// WalletSnapshot is an authoritative point-in-time view of an identity and
// its token balances. Snapshots are immutable once built; a refresh installs
// a new one rather than editing the old.
type WalletSnapshot struct {
	Identity  Identity
	Balances  []WalletBalance
	FetchedAt time.Time
}

// Balance returns the quantity held for tokenID, or zero.
func (s *WalletSnapshot) Balance(tokenID string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	for _, b := range s.Balances {
		if b.TokenID == tokenID {
			return b.Quantity
		}
	}
	return decimal.Zero
}

// NormalizeAddress returns the EIP-55 checksummed form of a hex wallet
// address so lookups are case-insensitive. Values that are not valid hex
// addresses are lower-cased and returned trimmed.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return strings.ToLower(addr)
}
