package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "herald/shared/contracts/notify/v1"
)

// RedisStore is the production HistoryStore. Each wallet's history is a
// Redis list holding JSON envelopes newest-first, with the unread counter in
// a separate key so INCR/DECR stay O(1).
//
// Ownership model: RedisStore does NOT own the client; the caller closes it.
type RedisStore struct {
	rdb       redis.Cmdable
	keyPrefix string
}

// RedisOption configures RedisStore behavior.
type RedisOption func(*RedisStore) error

// WithKeyPrefix sets the key namespace (default: "herald:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return errors.New("notify: empty key prefix")
		}
		s.keyPrefix = prefix
		return nil
	}
}

// NewRedisStore constructs a Redis-backed HistoryStore.
func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) (*RedisStore, error) {
	st := &RedisStore{
		rdb:       rdb,
		keyPrefix: "herald:",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.rdb == nil {
		return nil, errors.New("notify: nil redis client")
	}
	return st, nil
}

// Close is a no-op because the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) historyKey(wallet string) string {
	return s.keyPrefix + "history:" + wallet
}

func (s *RedisStore) unreadKey(wallet string) string {
	return s.keyPrefix + "unread:" + wallet
}

// Append pushes one envelope onto the head of the wallet's history list.
func (s *RedisStore) Append(ctx context.Context, wallet string, n v1.Notification) error {
	if wallet == "" || n.ID == "" {
		return errors.New("invalid input")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.rdb.LPush(ctx, s.historyKey(wallet), payload).Err()
}

// TrimToLast bounds the wallet's list to its n most recent envelopes.
func (s *RedisStore) TrimToLast(ctx context.Context, wallet string, n int) error {
	if n <= 0 {
		return s.rdb.Del(ctx, s.historyKey(wallet)).Err()
	}
	return s.rdb.LTrim(ctx, s.historyKey(wallet), 0, int64(n-1)).Err()
}

// IncrementUnread bumps the wallet's unread counter.
func (s *RedisStore) IncrementUnread(ctx context.Context, wallet string) error {
	return s.rdb.Incr(ctx, s.unreadKey(wallet)).Err()
}

// DecrementUnread lowers the unread counter, clamping at zero. The clamp
// races with concurrent increments only by leaving the counter high, never
// negative.
func (s *RedisStore) DecrementUnread(ctx context.Context, wallet string) error {
	val, err := s.rdb.Decr(ctx, s.unreadKey(wallet)).Result()
	if err != nil {
		return err
	}
	if val < 0 {
		return s.rdb.Set(ctx, s.unreadKey(wallet), 0, 0).Err()
	}
	return nil
}

// GetRecent returns a newest-first page plus the unread and total counts.
func (s *RedisStore) GetRecent(ctx context.Context, wallet string, offset, limit int) (RecentPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	pipe := s.rdb.Pipeline()
	rangeCmd := pipe.LRange(ctx, s.historyKey(wallet), int64(offset), int64(offset+limit-1))
	lenCmd := pipe.LLen(ctx, s.historyKey(wallet))
	unreadCmd := pipe.Get(ctx, s.unreadKey(wallet))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return RecentPage{}, err
	}

	page := RecentPage{Total: lenCmd.Val()}
	if unread, err := unreadCmd.Int64(); err == nil {
		page.Unread = unread
	}

	raw := rangeCmd.Val()
	page.Items = make([]v1.Notification, 0, len(raw))
	for _, item := range raw {
		var n v1.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			// A corrupt entry should not hide the rest of the page.
			continue
		}
		page.Items = append(page.Items, n)
	}
	return page, nil
}

// SetTTL refreshes the expiry on both the history list and the unread counter.
func (s *RedisStore) SetTTL(ctx context.Context, wallet string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	pipe.Expire(ctx, s.historyKey(wallet), ttl)
	pipe.Expire(ctx, s.unreadKey(wallet), ttl)
	_, err := pipe.Exec(ctx)
	return err
}
