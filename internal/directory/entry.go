package directory

import (
	"sync/atomic"

	"github.com/alanyoungcy/walletlink/internal/domain"
)

// Entry links an in-game player to a platform account. The wallet snapshot
// is swapped atomically by Refresh; readers always see a complete snapshot
// or none.
type Entry struct {
	PlayerID  string
	AccountID string

	snapshot atomic.Pointer[domain.WalletSnapshot]
}

// Snapshot returns the installed snapshot, or nil before the first
// successful refresh.
func (e *Entry) Snapshot() *domain.WalletSnapshot {
	return e.snapshot.Load()
}

// Loaded reports whether any refresh has succeeded.
func (e *Entry) Loaded() bool {
	return e.snapshot.Load() != nil
}

// WalletAddress returns the normalised linked address, or "".
func (e *Entry) WalletAddress() string {
	snap := e.snapshot.Load()
	if snap == nil || !snap.Identity.Linked {
		return ""
	}
	return domain.NormalizeAddress(snap.Identity.WalletAddress)
}

// Linked reports whether the installed snapshot has a linked wallet.
func (e *Entry) Linked() bool {
	snap := e.snapshot.Load()
	return snap != nil && snap.Identity.Linked
}
