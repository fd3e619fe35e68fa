package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the trade engine from concrete storage
// implementations (memory, SQLite, Postgres, Redis).

// AccountStore persists accounts and their trades.
type AccountStore interface {
	// LoadAccount returns the stored account, or ErrNotFound.
	LoadAccount(ctx context.Context, userID string) (*Account, error)

	// SaveAccount upserts the account unless a newer Version is stored.
	SaveAccount(ctx context.Context, acct *Account) error

	// SaveTrade upserts a trade. A stored CLOSED trade is never reopened.
	SaveTrade(ctx context.Context, t *Trade) error

	// ListTrades returns all trades of a user ordered by OpenedAt.
	ListTrades(ctx context.Context, userID string) ([]*Trade, error)

	// CommitClose atomically writes the account together with the given
	// (closed) trades.
	CommitClose(ctx context.Context, acct *Account, trades ...*Trade) error

	// ListOpenUsers returns the ids of users holding at least one OPEN
	// trade, sorted.
	ListOpenUsers(ctx context.Context) ([]string, error)

	// Ping checks connectivity for health reporting.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// StatsCache caches derived performance statistics with a short TTL.
type StatsCache interface {
	// Get returns the cached stats; ok is false on a miss.
	Get(ctx context.Context, userID string) (stats *PerformanceStats, ok bool, err error)
	Set(ctx context.Context, userID string, stats *PerformanceStats) error
	Invalidate(ctx context.Context, userID string) error
}
