package notify

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"herald/cmd/internal/ids"
	v1 "herald/shared/contracts/notify/v1"
)

// Registry owns all live-connection state: the connection set, the
// wallet->connections index, the bidirectional subscription index, and the
// per-connection rate-limit windows. There is no ambient global state; every
// component receives the registry by handle.
//
// Concurrency guarantees:
//   - Register/Deregister are mutually exclusive per connection id.
//   - SubscribersOf returns a snapshot; a fan-out iterating it may race with
//     a Deregister in progress, in which case Send degrades to a counted
//     no-op for the torn-down connection instead of failing the fan-out.
type Registry struct {
	log     *slog.Logger
	opts    Options
	metrics *Metrics
	limiter *RateLimiter

	mu       sync.RWMutex
	conns    map[string]*Client
	wallets  map[string]map[string]*Client // wallet -> connID -> client
	subs     map[string]map[string]struct{} // connID -> channel set
	channels map[string]map[string]*Client  // channel -> connID -> client
}

// NewRegistry constructs a Registry. metrics may be nil.
func NewRegistry(log *slog.Logger, opts Options, metrics *Metrics) *Registry {
	opts = opts.normalized()
	return &Registry{
		log:      log,
		opts:     opts,
		metrics:  metrics,
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateWindow),
		conns:    make(map[string]*Client),
		wallets:  make(map[string]map[string]*Client),
		subs:     make(map[string]map[string]struct{}),
		channels: make(map[string]map[string]*Client),
	}
}

// Options returns the normalized broker options.
func (r *Registry) Options() Options { return r.opts }

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// AtCapacity reports whether the global connection cap is reached. The
// handshake gate consults this before deriving any identity so overload is
// rejected without paying token-verification cost.
func (r *Registry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) >= r.opts.MaxConnections
}

// WalletConnections returns the number of live connections for a wallet.
func (r *Registry) WalletConnections(wallet string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets[wallet])
}

// Register admits a connection and creates its default subscriptions:
// global, plus the wallet's personal channel when identified. It fails with
// ErrCapacityExceeded when either cap is hit.
func (r *Registry) Register(wallet string, now time.Time) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.opts.MaxConnections {
		return nil, ErrCapacityExceeded
	}
	if wallet != "" && len(r.wallets[wallet]) >= r.opts.MaxPerWallet {
		return nil, ErrCapacityExceeded
	}

	c := newClient(ids.MustULID(now), wallet, r.opts.SendQueueSize, now)
	r.conns[c.ID] = c
	if wallet != "" {
		byWallet := r.wallets[wallet]
		if byWallet == nil {
			byWallet = make(map[string]*Client)
			r.wallets[wallet] = byWallet
		}
		byWallet[c.ID] = c
	}

	r.subs[c.ID] = make(map[string]struct{})
	r.subscribeLocked(c, ChannelGlobal)
	if wallet != "" {
		r.subscribeLocked(c, PersonalChannel(wallet))
	}

	if r.metrics != nil {
		r.metrics.Connections.Inc()
	}
	r.log.Info("registry.register", "connection_id", c.ID, "authenticated", c.Authenticated(), "total", len(r.conns))
	return c, nil
}

// Deregister removes a connection from every index: connection set, wallet
// map, subscription index, and rate-limit windows. Idempotent.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	if c.Wallet != "" {
		if byWallet := r.wallets[c.Wallet]; byWallet != nil {
			delete(byWallet, connID)
			if len(byWallet) == 0 {
				delete(r.wallets, c.Wallet)
			}
		}
	}

	for channel := range r.subs[connID] {
		r.dropChannelMemberLocked(channel, connID)
	}
	delete(r.subs, connID)
	total := len(r.conns)
	r.mu.Unlock()

	r.limiter.Forget(connID)

	// Signal shutdown after index removal so an in-flight fan-out holding a
	// stale pointer sees the done channel and skips the client.
	c.Close()

	if r.metrics != nil {
		r.metrics.Connections.Dec()
	}
	r.log.Info("registry.deregister", "connection_id", connID,
		"inbound", c.CountInbound(), "outbound", c.CountOutbound(), "send_failures", c.CountSendFailures(),
		"total", total)
}

// Get returns the client for a connection id.
func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Touch records a liveness signal for the connection.
func (r *Registry) Touch(connID string, now time.Time) {
	if c, ok := r.Get(connID); ok {
		c.Touch(now)
	}
}

// Allow counts one inbound message against the connection's rate window.
func (r *Registry) Allow(connID string, now time.Time) bool {
	ok := r.limiter.Allow(connID, now)
	if !ok && r.metrics != nil {
		r.metrics.RateLimited.Inc()
	}
	return ok
}

// Subscribe adds (connID, channel) to the subscription index. Idempotent on
// duplicates. Enforces the per-connection cap and personal-channel ownership.
func (r *Registry) Subscribe(connID, channel string) error {
	if !ValidChannel(channel) {
		return ErrUnknownChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrNotRegistered
	}
	if wallet, isPersonal := personalWallet(channel); isPersonal && wallet != c.Wallet {
		return ErrChannelUnauthorized
	}

	set := r.subs[connID]
	if _, exists := set[channel]; exists {
		return nil
	}
	if len(set) >= r.opts.MaxSubscriptions {
		return ErrSubscriptionLimit
	}

	r.subscribeLocked(c, channel)
	return nil
}

func (r *Registry) subscribeLocked(c *Client, channel string) {
	r.subs[c.ID][channel] = struct{}{}
	members := r.channels[channel]
	if members == nil {
		members = make(map[string]*Client)
		r.channels[channel] = members
	}
	members[c.ID] = c
}

// Unsubscribe removes (connID, channel). Never errors on a missing relation.
func (r *Registry) Unsubscribe(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.subs[connID]; ok {
		delete(set, channel)
	}
	r.dropChannelMemberLocked(channel, connID)
}

func (r *Registry) dropChannelMemberLocked(channel, connID string) {
	if members := r.channels[channel]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// Channels returns the sorted subscription set of a connection.
func (r *Registry) Channels(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[connID]
	out := make([]string, 0, len(set))
	for channel := range set {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// SubscribersOf returns a snapshot of the channel's current subscribers,
// safe to iterate while mutations occur concurrently elsewhere.
func (r *Registry) SubscribersOf(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Snapshot returns all live connections, for the heartbeat sweep.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Send enqueues a frame for one connection, best-effort. It returns false
// and counts the failure when the client is shutting down or its send
// queue is full. A slow client never blocks the caller.
func (r *Registry) Send(c *Client, frame v1.ServerFrame) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.Done():
		c.sendFailures.Add(1)
		if r.metrics != nil {
			r.metrics.Dropped.Inc()
		}
		return false
	default:
	}

	select {
	case c.Send <- frame:
		c.outbound.Add(1)
		return true
	default:
		// Drop rather than block the fan-out on one slow connection.
		c.sendFailures.Add(1)
		if r.metrics != nil {
			r.metrics.Dropped.Inc()
		}
		return false
	}
}

// SendTo is Send addressed by connection id.
func (r *Registry) SendTo(connID string, frame v1.ServerFrame) bool {
	c, ok := r.Get(connID)
	if !ok {
		return false
	}
	return r.Send(c, frame)
}

// Drain force-closes every live connection. Used on graceful shutdown.
func (r *Registry) Drain(reason string) {
	for _, c := range r.Snapshot() {
		c.Terminate(reason)
		r.Deregister(c.ID)
	}
}
