package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	v1 "herald/shared/contracts/notify/v1"
)

// Client represents one live connection.
//
// Design notes:
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent fan-outs; done signals shutdown instead.
//   - The registry owns index membership; the client owns only its socket
//     hooks and counters.
//   - Close and Terminate are idempotent.
type Client struct {
	ID        string
	Wallet    string // empty => anonymous
	CreatedAt time.Time

	Send chan v1.ServerFrame

	lastSeen     atomic.Int64 // unix nanos
	inbound      atomic.Int64
	outbound     atomic.Int64
	sendFailures atomic.Int64
	terminated   atomic.Bool

	done      chan struct{}
	closeOnce sync.Once

	// Transport hooks installed by the gateway after the upgrade. Both are
	// optional so registry and sweeper tests can run without sockets.
	hookMu      sync.Mutex
	pingFn      func(ctx context.Context) error
	terminateFn func(reason string)
}

// newClient constructs a client with a bounded send queue.
func newClient(id, wallet string, sendQueueSize int, now time.Time) *Client {
	c := &Client{
		ID:        id,
		Wallet:    wallet,
		CreatedAt: now,
		Send:      make(chan v1.ServerFrame, sendQueueSize),
		done:      make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Authenticated reports whether the connection carries a wallet identity.
func (c *Client) Authenticated() bool { return c.Wallet != "" }

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fan-out safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Touch records a liveness signal (pong or any inbound message).
func (c *Client) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the time of the last liveness signal.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// CountInbound / CountOutbound / CountSendFailures expose per-connection
// message counters for logs and the history API.
func (c *Client) CountInbound() int64      { return c.inbound.Load() }
func (c *Client) CountOutbound() int64     { return c.outbound.Load() }
func (c *Client) CountSendFailures() int64 { return c.sendFailures.Load() }

// BindTransport installs the socket hooks used by the heartbeat sweeper.
func (c *Client) BindTransport(ping func(ctx context.Context) error, terminate func(reason string)) {
	c.hookMu.Lock()
	c.pingFn = ping
	c.terminateFn = terminate
	c.hookMu.Unlock()
}

// Ping sends a protocol-level ping; a nil hook succeeds immediately.
func (c *Client) Ping(ctx context.Context) error {
	c.hookMu.Lock()
	ping := c.pingFn
	c.hookMu.Unlock()
	if ping == nil {
		return nil
	}
	return ping(ctx)
}

// Terminate force-closes the underlying socket exactly once. Normal teardown
// (deregistration) runs through the gateway's read-loop exit, the same as a
// peer-initiated close.
func (c *Client) Terminate(reason string) bool {
	if !c.terminated.CompareAndSwap(false, true) {
		return false
	}
	c.hookMu.Lock()
	terminate := c.terminateFn
	c.hookMu.Unlock()
	if terminate != nil {
		terminate(reason)
	}
	c.Close()
	return true
}
