package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	v1 "herald/shared/contracts/notify/v1"
)

// Hard bound per wallet so a missing TrimToLast call cannot grow memory
// without limit in dev.
const memMaxPerWallet = 1000

// InMemoryStore is the dev/test HistoryStore. Items are held newest-first.
type InMemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*memHistory
}

type memHistory struct {
	items     []v1.Notification // newest first
	unread    int64
	expiresAt time.Time // zero => no TTL
}

// NewInMemoryStore constructs an in-memory HistoryStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{wallets: make(map[string]*memHistory)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) historyLocked(wallet string, now time.Time) *memHistory {
	h := s.wallets[wallet]
	if h != nil && !h.expiresAt.IsZero() && now.After(h.expiresAt) {
		delete(s.wallets, wallet)
		h = nil
	}
	if h == nil {
		h = &memHistory{}
		s.wallets[wallet] = h
	}
	return h
}

// Append stores one notification at the head of the wallet's history.
func (s *InMemoryStore) Append(ctx context.Context, wallet string, n v1.Notification) error {
	if wallet == "" || n.ID == "" {
		return errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.historyLocked(wallet, time.Now().UTC())
	h.items = append([]v1.Notification{n}, h.items...)
	if len(h.items) > memMaxPerWallet {
		h.items = h.items[:memMaxPerWallet]
	}
	return nil
}

// TrimToLast keeps only the n most recent notifications.
func (s *InMemoryStore) TrimToLast(ctx context.Context, wallet string, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.wallets[wallet]; h != nil && len(h.items) > n {
		h.items = h.items[:n]
	}
	return nil
}

// IncrementUnread bumps the wallet's unread counter.
func (s *InMemoryStore) IncrementUnread(ctx context.Context, wallet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLocked(wallet, time.Now().UTC()).unread++
	return nil
}

// DecrementUnread lowers the wallet's unread counter, clamped at zero.
func (s *InMemoryStore) DecrementUnread(ctx context.Context, wallet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.wallets[wallet]; h != nil && h.unread > 0 {
		h.unread--
	}
	return nil
}

// GetRecent returns a newest-first page of the wallet's history.
func (s *InMemoryStore) GetRecent(ctx context.Context, wallet string, offset, limit int) (RecentPage, error) {
	if err := ctx.Err(); err != nil {
		return RecentPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.wallets[wallet]
	if h != nil && !h.expiresAt.IsZero() && time.Now().UTC().After(h.expiresAt) {
		delete(s.wallets, wallet)
		h = nil
	}
	if h == nil {
		return RecentPage{}, nil
	}

	page := RecentPage{Unread: h.unread, Total: int64(len(h.items))}
	if offset >= len(h.items) {
		return page, nil
	}
	end := offset + limit
	if end > len(h.items) {
		end = len(h.items)
	}
	page.Items = append([]v1.Notification(nil), h.items[offset:end]...)
	return page, nil
}

// SetTTL schedules the wallet's history to expire after ttl.
func (s *InMemoryStore) SetTTL(ctx context.Context, wallet string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLocked(wallet, time.Now().UTC()).expiresAt = time.Now().UTC().Add(ttl)
	return nil
}
