package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, reg *Registry) *HeartbeatMonitor {
	t.Helper()
	return NewHeartbeatMonitor(testLogger(), reg, nil)
}

func TestHeartbeat_FreshConnectionUntouched(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{HeartbeatTimeout: 10 * time.Second})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var pings, terminations atomic.Int64
	c.BindTransport(
		func(context.Context) error { pings.Add(1); return nil },
		func(string) { terminations.Add(1) },
	)

	m := newTestMonitor(t, reg)
	m.Sweep(context.Background(), now.Add(5*time.Second))

	time.Sleep(50 * time.Millisecond)
	if pings.Load() != 0 || terminations.Load() != 0 {
		t.Fatalf("fresh connection probed or terminated: pings=%d terms=%d", pings.Load(), terminations.Load())
	}
}

func TestHeartbeat_IdleConnectionProbed(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{HeartbeatTimeout: 10 * time.Second})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	pinged := make(chan struct{}, 1)
	c.BindTransport(
		func(context.Context) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		},
		func(string) { t.Errorf("probe window must not terminate") },
	)

	m := newTestMonitor(t, reg)
	m.Sweep(context.Background(), now.Add(12*time.Second))

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a protocol ping for an idle connection")
	}

	// A successful probe counts as a liveness signal.
	deadline := time.Now().Add(2 * time.Second)
	for c.LastSeen().Equal(now) {
		if time.Now().After(deadline) {
			t.Fatalf("last-seen not advanced after successful probe")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeartbeat_DeadConnectionTerminatedOnce(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, Options{HeartbeatTimeout: 10 * time.Second})
	now := testNow()

	c, err := reg.Register("walletA", now)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	var terminations atomic.Int64
	c.BindTransport(nil, func(string) { terminations.Add(1) })

	m := newTestMonitor(t, reg)
	m.Sweep(context.Background(), now.Add(20*time.Second))
	if terminations.Load() != 1 {
		t.Fatalf("expected exactly one termination, got %d", terminations.Load())
	}

	select {
	case <-c.Done():
	default:
		t.Fatalf("terminated client should be closed")
	}

	// A second sweep over the same corpse is a no-op.
	m.Sweep(context.Background(), now.Add(40*time.Second))
	if terminations.Load() != 1 {
		t.Fatalf("termination must fire at most once, got %d", terminations.Load())
	}
}
