package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"herald/cmd/internal/ids"
	v1 "herald/shared/contracts/notify/v1"
)

// Dispatcher builds canonical notification envelopes, persists them through
// the history store (best-effort, asynchronous) and fans them out through
// the subscription index to live connections.
//
// Fan-out counts report connections actually enqueued to, not attempted.
type Dispatcher struct {
	log     *slog.Logger
	reg     *Registry
	store   HistoryStore
	filter  EligibilityFilter
	metrics *Metrics
	opts    Options

	persistWG sync.WaitGroup

	// Per-wallet persistence is chained so history writes land in dispatch
	// order; without this, racing appends would let an older envelope evict
	// a newer one at trim time.
	persistMu   sync.Mutex
	persistTail map[string]chan struct{}
}

// NewDispatcher wires the dispatcher. filter and metrics may be nil.
func NewDispatcher(log *slog.Logger, reg *Registry, store HistoryStore, filter EligibilityFilter, metrics *Metrics) *Dispatcher {
	if filter == nil {
		filter = AllowAll{}
	}
	return &Dispatcher{
		log:         log,
		reg:         reg,
		store:       store,
		filter:      filter,
		metrics:     metrics,
		opts:        reg.Options(),
		persistTail: make(map[string]chan struct{}),
	}
}

// NewNotification builds an envelope of the given kind. data is marshaled
// into the envelope's payload; the id/timestamp/read fields are filled in at
// dispatch time.
func NewNotification(kind string, data any) v1.Notification {
	payload, _ := json.Marshal(data)
	return v1.Notification{Kind: kind, Data: payload}
}

func (d *Dispatcher) enrich(n *v1.Notification) {
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = ids.MustULID(now)
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	n.Read = false
}

// NotifyWallet enriches, persists and delivers one notification to every
// live connection on the wallet's personal channel. Returns the delivery
// count.
func (d *Dispatcher) NotifyWallet(ctx context.Context, wallet string, n v1.Notification) int {
	if wallet == "" {
		return 0
	}
	d.enrich(&n)
	d.persist(wallet, n)
	return d.deliver(d.reg.SubscribersOf(PersonalChannel(wallet)), n)
}

// BroadcastToChannel enriches and delivers one notification to every
// subscriber of the channel. Broadcasts are transient: they are not written
// to any wallet's history.
func (d *Dispatcher) BroadcastToChannel(_ context.Context, channel string, n v1.Notification) int {
	d.enrich(&n)
	return d.deliver(d.reg.SubscribersOf(channel), n)
}

// BroadcastToAll enriches and delivers one notification to every live
// connection regardless of subscriptions.
func (d *Dispatcher) BroadcastToAll(_ context.Context, n v1.Notification) int {
	d.enrich(&n)
	return d.deliver(d.reg.Snapshot(), n)
}

func (d *Dispatcher) deliver(targets []*Client, n v1.Notification) int {
	frame := v1.ServerFrame{Type: v1.TypeNotification, Notification: &n}

	delivered := 0
	for _, c := range targets {
		if d.reg.Send(c, frame) {
			delivered++
		}
	}
	if d.metrics != nil && delivered > 0 {
		d.metrics.Delivered.Add(float64(delivered))
	}
	return delivered
}

// persist appends the envelope to the wallet's history, bounds the history,
// bumps the unread counter and refreshes the TTL. Fire-and-forget with its
// own timeout: a slow or failed store write is logged and abandoned, never
// retried here, and never blocks or fails delivery. Writes for the same
// wallet run strictly in dispatch order; each goroutine waits for the
// wallet's previous write to finish before touching the store.
func (d *Dispatcher) persist(wallet string, n v1.Notification) {
	if d.store == nil {
		return
	}

	d.persistMu.Lock()
	prev := d.persistTail[wallet]
	done := make(chan struct{})
	d.persistTail[wallet] = done
	d.persistMu.Unlock()

	d.persistWG.Add(1)
	go func() {
		defer d.persistWG.Done()
		defer close(done)
		defer func() {
			d.persistMu.Lock()
			if d.persistTail[wallet] == done {
				delete(d.persistTail, wallet)
			}
			d.persistMu.Unlock()
		}()

		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.opts.PersistTimeout)
		defer cancel()

		if err := d.store.Append(ctx, wallet, n); err != nil {
			d.persistFailed("append", wallet, n.ID, err)
			return
		}
		if err := d.store.TrimToLast(ctx, wallet, d.opts.HistoryLimit); err != nil {
			d.persistFailed("trim", wallet, n.ID, err)
		}
		if err := d.store.IncrementUnread(ctx, wallet); err != nil {
			d.persistFailed("unread", wallet, n.ID, err)
		}
		if err := d.store.SetTTL(ctx, wallet, d.opts.HistoryTTL); err != nil {
			d.persistFailed("ttl", wallet, n.ID, err)
		}
	}()
}

func (d *Dispatcher) persistFailed(step, wallet, id string, err error) {
	d.log.Warn("history.persist.fail", "step", step, "wallet", wallet, "notification_id", id, "err", err)
	if d.metrics != nil {
		d.metrics.PersistFailures.Inc()
	}
}

// Flush waits for in-flight history writes. Used by graceful shutdown and tests.
func (d *Dispatcher) Flush() {
	d.persistWG.Wait()
}

// Ack marks one delivered notification as read for the wallet.
func (d *Dispatcher) Ack(ctx context.Context, wallet, notificationID string) error {
	if d.store == nil || wallet == "" {
		return nil
	}
	if err := d.store.DecrementUnread(ctx, wallet); err != nil {
		d.log.Warn("history.ack.fail", "wallet", wallet, "notification_id", notificationID, "err", err)
		return err
	}
	return nil
}

// Recent reads a page of the wallet's history.
func (d *Dispatcher) Recent(ctx context.Context, wallet string, offset, limit int) (RecentPage, error) {
	if d.store == nil {
		return RecentPage{}, nil
	}
	return d.store.GetRecent(ctx, wallet, offset, limit)
}
