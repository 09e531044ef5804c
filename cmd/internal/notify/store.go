package notify

import (
	"context"
	"time"

	v1 "herald/shared/contracts/notify/v1"
)

// RecentPage is one window of a wallet's notification history.
type RecentPage struct {
	Items  []v1.Notification
	Unread int64
	Total  int64
}

// HistoryStore persists bounded per-wallet notification history plus an
// unread counter.
//
// Requirements:
//   - Append stores newest-first; GetRecent pages newest-first.
//   - TrimToLast bounds a wallet's history to its n most recent items.
//   - DecrementUnread never drives the counter below zero.
//
// Persistence is best-effort from the dispatcher's point of view: a live
// client still receives the push even when the store is down.
type HistoryStore interface {
	Append(ctx context.Context, wallet string, n v1.Notification) error
	TrimToLast(ctx context.Context, wallet string, n int) error
	IncrementUnread(ctx context.Context, wallet string) error
	DecrementUnread(ctx context.Context, wallet string) error
	GetRecent(ctx context.Context, wallet string, offset, limit int) (RecentPage, error)
	SetTTL(ctx context.Context, wallet string, ttl time.Duration) error
	Close() error
}
