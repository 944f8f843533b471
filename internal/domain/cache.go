package domain

import "context"

// IdentityCache mirrors installed wallet snapshots for other processes.
type IdentityCache interface {
	SetSnapshot(ctx context.Context, snap WalletSnapshot) error
	GetSnapshot(ctx context.Context, accountID string) (WalletSnapshot, error)
	Invalidate(ctx context.Context, accountID string) error
}

// SignalBus provides pub/sub messaging between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
