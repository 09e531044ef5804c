package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Persistence. RedisURL wins over DatabaseURL; with neither set the
	// broker keeps history in memory.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	RedisURL    string

	// If true, /readyz returns 503 unless a durable store is configured and
	// reachable.
	ReadinessRequireStore bool

	// Shared secret for /internal/v1/*. Empty disables the internal API.
	InternalToken string

	// Redis pub/sub event ingress toggle (requires RedisURL).
	IngressEnabled bool

	// Broker tuning.
	MaxConnections    int
	MaxPerWallet      int
	MaxSubscriptions  int
	RateLimit         int
	RateWindow        time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendQueueSize     int
	HistoryLimit      int
	HistoryTTL        time.Duration
	WhaleThreshold    uint64
}

// LoadConfig loads Config from environment variables with defaults.
//
// Note: a WebSocket server must not set http.Server read/write timeouts,
// they would kill long-lived connections; per-frame deadlines are handled
// by the gateway.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("HERALD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HERALD_LOG_LEVEL", "info"),
		LogFormat: EnvString("HERALD_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HERALD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("HERALD_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("HERALD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("HERALD_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HERALD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HERALD_DB_MIN_CONNS", 0),
		RedisURL:    EnvString("HERALD_REDIS_URL", ""),

		ReadinessRequireStore: EnvBool("HERALD_READINESS_REQUIRE_STORE", false),

		InternalToken: EnvString("HERALD_INTERNAL_API_TOKEN", ""),

		IngressEnabled: EnvBool("HERALD_INGRESS_ENABLED", true),

		MaxConnections:    EnvInt("HERALD_WS_MAX_CONNECTIONS", 10_000),
		MaxPerWallet:      EnvInt("HERALD_WS_MAX_PER_WALLET", 3),
		MaxSubscriptions:  EnvInt("HERALD_WS_MAX_SUBSCRIPTIONS", 20),
		RateLimit:         EnvInt("HERALD_WS_RATE_LIMIT", 60),
		RateWindow:        EnvDuration("HERALD_WS_RATE_WINDOW", time.Minute),
		HeartbeatInterval: EnvDuration("HERALD_WS_HEARTBEAT_INTERVAL", 21*time.Second),
		HeartbeatTimeout:  EnvDuration("HERALD_WS_HEARTBEAT_TIMEOUT", 13*time.Second),
		SendQueueSize:     EnvInt("HERALD_WS_SEND_QUEUE", 256),
		HistoryLimit:      EnvInt("HERALD_HISTORY_LIMIT", 100),
		HistoryTTL:        EnvDuration("HERALD_HISTORY_TTL", 30*24*time.Hour),
		WhaleThreshold:    EnvUint64("HERALD_WHALE_THRESHOLD", 1_000_000),
	}
}
