package notify

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "herald/shared/contracts/notify/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	return NewRegistry(testLogger(), opts, nil)
}

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRegistry_RegisterDefaultSubscriptions(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !c.Authenticated() {
		t.Fatalf("wallet connection should be authenticated")
	}

	channels := reg.Channels(c.ID)
	if len(channels) != 2 || channels[0] != ChannelGlobal || channels[1] != PersonalChannel("walletA") {
		t.Fatalf("unexpected default subscriptions: %v", channels)
	}

	anon, err := reg.Register("", now)
	if err != nil {
		t.Fatalf("register anonymous: %v", err)
	}
	if anon.Authenticated() {
		t.Fatalf("anonymous connection must not be authenticated")
	}
	if channels := reg.Channels(anon.ID); len(channels) != 1 || channels[0] != ChannelGlobal {
		t.Fatalf("anonymous should only hold global, got %v", channels)
	}
}

func TestRegistry_GlobalCap(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{MaxConnections: 2})
	now := testNow()

	if _, err := reg.Register("a", now); err != nil {
		t.Fatalf("register 1: %v", err)
	}
	if _, err := reg.Register("b", now); err != nil {
		t.Fatalf("register 2: %v", err)
	}
	if !reg.AtCapacity() {
		t.Fatalf("expected AtCapacity at the global cap")
	}
	if _, err := reg.Register("c", now); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestRegistry_PerWalletCap(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{MaxPerWallet: 2})
	now := testNow()

	first, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register 1: %v", err)
	}
	if _, err := reg.Register("walletA", now); err != nil {
		t.Fatalf("register 2: %v", err)
	}
	if _, err := reg.Register("walletA", now); err != ErrCapacityExceeded {
		t.Fatalf("expected per-wallet cap, got %v", err)
	}

	// Another wallet is unaffected.
	if _, err := reg.Register("walletB", now); err != nil {
		t.Fatalf("register walletB: %v", err)
	}

	// Releasing one slot re-admits.
	reg.Deregister(first.ID)
	if _, err := reg.Register("walletA", now); err != nil {
		t.Fatalf("register after release: %v", err)
	}
	if got := reg.WalletConnections("walletA"); got != 2 {
		t.Fatalf("expected 2 walletA connections, got %d", got)
	}
}

func TestRegistry_DeregisterCleansEveryIndex(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Subscribe(c.ID, ChannelBurns); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !reg.Allow(c.ID, now) {
		t.Fatalf("allow: unexpected rejection")
	}

	reg.Deregister(c.ID)

	if reg.Len() != 0 {
		t.Fatalf("connection still in the connection set")
	}
	if got := reg.WalletConnections("walletA"); got != 0 {
		t.Fatalf("wallet index not cleaned, %d left", got)
	}
	if subs := reg.SubscribersOf(ChannelBurns); len(subs) != 0 {
		t.Fatalf("subscription index not cleaned: %d members", len(subs))
	}
	if subs := reg.SubscribersOf(PersonalChannel("walletA")); len(subs) != 0 {
		t.Fatalf("personal channel not cleaned: %d members", len(subs))
	}
	if reg.limiter.Tracked() != 0 {
		t.Fatalf("rate window not forgotten")
	}

	select {
	case <-c.Done():
	default:
		t.Fatalf("done channel should be closed after deregistration")
	}

	// Idempotent.
	reg.Deregister(c.ID)
}

func TestRegistry_SubscribeRules(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{MaxSubscriptions: 3})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.Subscribe(c.ID, "nonsense"); err != ErrUnknownChannel {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if err := reg.Subscribe(c.ID, PersonalChannel("walletB")); err != ErrChannelUnauthorized {
		t.Fatalf("expected ErrChannelUnauthorized, got %v", err)
	}

	// Duplicate of an existing subscription is a no-op, even at the cap.
	if err := reg.Subscribe(c.ID, ChannelGlobal); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}

	// Defaults are global + personal (2); one slot left.
	if err := reg.Subscribe(c.ID, ChannelBurns); err != nil {
		t.Fatalf("subscribe burns: %v", err)
	}
	if err := reg.Subscribe(c.ID, ChannelLeaderboard); err != ErrSubscriptionLimit {
		t.Fatalf("expected ErrSubscriptionLimit, got %v", err)
	}

	if err := reg.Subscribe("no-such-conn", ChannelGlobal); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Subscribe(c.ID, ChannelBurns); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	reg.Unsubscribe(c.ID, ChannelBurns)
	if subs := reg.SubscribersOf(ChannelBurns); len(subs) != 0 {
		t.Fatalf("still subscribed after unsubscribe")
	}

	// Repeated and never-subscribed unsubscribes are silent no-ops.
	reg.Unsubscribe(c.ID, ChannelBurns)
	reg.Unsubscribe(c.ID, ChannelEvents)
	reg.Unsubscribe("no-such-conn", ChannelGlobal)
}

func TestRegistry_SendBackpressureDrops(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	frame := v1.ServerFrame{Type: v1.TypePong}
	queue := reg.Options().SendQueueSize
	for i := 0; i < queue; i++ {
		if !reg.Send(c, frame) {
			t.Fatalf("send %d rejected before the queue filled", i+1)
		}
	}
	if reg.Send(c, frame) {
		t.Fatalf("send into a full queue must drop, not block")
	}
	if got := c.CountSendFailures(); got != 1 {
		t.Fatalf("expected 1 send failure, got %d", got)
	}
	if got := c.CountOutbound(); got != int64(queue) {
		t.Fatalf("expected %d outbound, got %d", queue, got)
	}
}

func TestRegistry_SendAfterDeregisterIsCountedNoop(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Simulates a fan-out holding a stale pointer across a deregistration.
	reg.Deregister(c.ID)
	if reg.Send(c, v1.ServerFrame{Type: v1.TypePong}) {
		t.Fatalf("send to a closed client should report failure")
	}
	if got := c.CountSendFailures(); got != 1 {
		t.Fatalf("expected 1 send failure, got %d", got)
	}
	if reg.SendTo(c.ID, v1.ServerFrame{Type: v1.TypePong}) {
		t.Fatalf("SendTo for an unknown id should report failure")
	}
}

func TestRegistry_Drain(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{})
	now := testNow()

	var terminated int
	for i := 0; i < 3; i++ {
		c, err := reg.Register("walletA", now)
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		c.BindTransport(nil, func(string) { terminated++ })
	}

	reg.Drain("shutting down")

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry after drain, got %d", reg.Len())
	}
	if terminated != 3 {
		t.Fatalf("expected 3 socket terminations, got %d", terminated)
	}
}
