package notify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"herald/cmd/internal/ids"
	v1 "herald/shared/contracts/notify/v1"
)

// Integration tests are enabled when HERALD_REDIS_URL is set.

func mustOpenTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("HERALD_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HERALD_REDIS_URL is not set")
	}

	opts, err := redis.ParseURL(raw)
	if err != nil {
		t.Fatalf("parse HERALD_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newIsolatedRedisStore(t *testing.T, rdb *redis.Client) (*RedisStore, string) {
	t.Helper()

	prefix := "herald_it:" + strings.ToLower(ids.MustULID(time.Now().UTC())) + ":"
	store, err := NewRedisStore(rdb, WithKeyPrefix(prefix))
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = rdb.Del(ctx, iter.Val()).Err()
		}
	})
	return store, prefix
}

func TestRedisStore_HistoryLifecycle(t *testing.T) {
	t.Parallel()

	rdb := mustOpenTestRedis(t)
	store, _ := newIsolatedRedisStore(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	wallet := "it-wallet-" + strings.ToLower(ids.MustULID(time.Now().UTC()))
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 7; i++ {
		n := v1.Notification{
			ID:        ids.MustULID(base.Add(time.Duration(i) * time.Second)),
			Kind:      v1.KindBurn,
			Data:      []byte(fmt.Sprintf(`{"amount":%d}`, i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Append(ctx, wallet, n); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := store.IncrementUnread(ctx, wallet); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	if err := store.TrimToLast(ctx, wallet, 5); err != nil {
		t.Fatalf("trim: %v", err)
	}

	page, err := store.GetRecent(ctx, wallet, 0, 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 5 {
		t.Fatalf("expected 5 after trim, got total=%d len=%d", page.Total, len(page.Items))
	}
	if page.Unread != 7 {
		t.Fatalf("expected unread=7, got %d", page.Unread)
	}
	// Newest first.
	if !page.Items[0].Timestamp.After(page.Items[4].Timestamp) {
		t.Fatalf("history not newest-first")
	}

	// Pagination.
	page, err = store.GetRecent(ctx, wallet, 2, 2)
	if err != nil {
		t.Fatalf("get recent page: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 5 {
		t.Fatalf("expected page of 2/5, got %d/%d", len(page.Items), page.Total)
	}
}

func TestRedisStore_UnreadClampedAtZero(t *testing.T) {
	t.Parallel()

	rdb := mustOpenTestRedis(t)
	store, _ := newIsolatedRedisStore(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	wallet := "it-wallet-" + strings.ToLower(ids.MustULID(time.Now().UTC()))

	if err := store.IncrementUnread(ctx, wallet); err != nil {
		t.Fatalf("increment: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.DecrementUnread(ctx, wallet); err != nil {
			t.Fatalf("decrement %d: %v", i, err)
		}
	}

	page, err := store.GetRecent(ctx, wallet, 0, 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if page.Unread != 0 {
		t.Fatalf("unread went below zero: %d", page.Unread)
	}
}

func TestRedisStore_SetTTL(t *testing.T) {
	t.Parallel()

	rdb := mustOpenTestRedis(t)
	store, prefix := newIsolatedRedisStore(t, rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	wallet := "it-wallet-" + strings.ToLower(ids.MustULID(time.Now().UTC()))
	n := v1.Notification{ID: ids.MustULID(time.Now().UTC()), Kind: v1.KindBurn, Data: []byte(`{}`), Timestamp: time.Now().UTC()}

	if err := store.Append(ctx, wallet, n); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SetTTL(ctx, wallet, time.Hour); err != nil {
		t.Fatalf("set ttl: %v", err)
	}

	ttl, err := rdb.TTL(ctx, prefix+"history:"+wallet).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
}
