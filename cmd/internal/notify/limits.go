package notify

import "time"

// Security/performance limits. All caps are enforced synchronously at the
// point of the relevant operation, never reconciled asynchronously.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	defaultMaxConnections   = 10_000
	defaultMaxPerWallet     = 3
	defaultMaxSubscriptions = 20

	// Per-connection inbound rate: fixed window, lazily reset.
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute

	// Heartbeat: probe after heartbeatTimeout of silence, terminate after
	// twice that.
	defaultHeartbeatInterval = 21 * time.Second
	defaultHeartbeatTimeout  = 13 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	// History retention per wallet.
	defaultHistoryLimit = 100
	defaultHistoryTTL   = 30 * 24 * time.Hour

	// Burns at or above this size additionally produce a whale alert on the
	// global channel.
	defaultWhaleThreshold uint64 = 1_000_000

	// Budget for the fire-and-forget history persistence of one envelope.
	defaultPersistTimeout = 5 * time.Second
)

// Options tunes the broker. The zero value gets defaults via normalized.
type Options struct {
	MaxConnections   int
	MaxPerWallet     int
	MaxSubscriptions int

	RateLimit  int
	RateWindow time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SendQueueSize int

	HistoryLimit   int
	HistoryTTL     time.Duration
	WhaleThreshold uint64
	PersistTimeout time.Duration
}

func (o Options) normalized() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = defaultMaxConnections
	}
	if o.MaxPerWallet <= 0 {
		o.MaxPerWallet = defaultMaxPerWallet
	}
	if o.MaxSubscriptions <= 0 {
		o.MaxSubscriptions = defaultMaxSubscriptions
	}
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRateLimit
	}
	if o.RateWindow <= 0 {
		o.RateWindow = defaultRateWindow
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.SendQueueSize < minSendQueueSize {
		o.SendQueueSize = minSendQueueSize
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.HistoryTTL <= 0 {
		o.HistoryTTL = defaultHistoryTTL
	}
	if o.WhaleThreshold == 0 {
		o.WhaleThreshold = defaultWhaleThreshold
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = defaultPersistTimeout
	}
	return o
}
