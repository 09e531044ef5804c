package notify

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatMonitor runs a periodic sweep over all registered connections.
//
// Per-connection state machine:
//
//	ALIVE -> (silent for heartbeatTimeout)  -> PROBING (protocol ping)
//	      -> (silent for 2x heartbeatTimeout) -> TERMINATED
//
// Detection is a periodic O(n) sweep; teardown is triggered at most once per
// dead connection and then runs through the normal deregistration path.
type HeartbeatMonitor struct {
	log      *slog.Logger
	reg      *Registry
	metrics  *Metrics
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor constructs a monitor over the registry's connections.
func NewHeartbeatMonitor(log *slog.Logger, reg *Registry, metrics *Metrics) *HeartbeatMonitor {
	opts := reg.Options()
	return &HeartbeatMonitor{
		log:      log,
		reg:      reg,
		metrics:  metrics,
		interval: opts.HeartbeatInterval,
		timeout:  opts.HeartbeatTimeout,
	}
}

// Run sweeps until ctx is cancelled.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep probes idle connections and terminates unresponsive ones.
// Exported for deterministic tests; Run is just a ticker around it.
func (m *HeartbeatMonitor) Sweep(ctx context.Context, now time.Time) {
	for _, c := range m.reg.Snapshot() {
		idle := now.Sub(c.LastSeen())

		switch {
		case idle >= 2*m.timeout:
			if c.Terminate("heartbeat timeout") {
				m.log.Info("heartbeat.terminate", "connection_id", c.ID, "idle", idle)
				if m.metrics != nil {
					m.metrics.HeartbeatTerminations.Inc()
				}
			}
		case idle >= m.timeout:
			go m.probe(ctx, c)
		}
	}
}

// probe pings one idle connection; a pong within the timeout counts as a
// liveness signal. Ping failures are left for the next sweep to act on.
func (m *HeartbeatMonitor) probe(ctx context.Context, c *Client) {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := c.Ping(pingCtx); err != nil {
		m.log.Debug("heartbeat.ping.fail", "connection_id", c.ID, "err", err)
		return
	}
	c.Touch(time.Now().UTC())
}
