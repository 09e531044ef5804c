// Package app wires the Herald runtime: config, logging, HTTP routes and the
// notification broker.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"herald/cmd/internal/auth"
	"herald/cmd/internal/notify"
)

// App is the Herald runtime: it owns the HTTP server wiring, the broker
// components and the persistence clients.
type App struct {
	cfg Config
	log Logger

	promReg *prometheus.Registry
	metrics *notify.Metrics

	reg        *notify.Registry
	prefs      *notify.PreferenceFilter
	dispatcher *notify.Dispatcher
	monitor    *notify.HeartbeatMonitor
	ingress    *notify.Ingress
	ws         *notify.WSGateway
	api        *InternalAPI

	store  notify.HistoryStore
	dbPool *pgxpool.Pool
	rdb    *redis.Client
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	a.promReg = prometheus.NewRegistry()
	a.metrics = notify.NewMetrics(a.promReg)

	opts := notify.Options{
		MaxConnections:    cfg.MaxConnections,
		MaxPerWallet:      cfg.MaxPerWallet,
		MaxSubscriptions:  cfg.MaxSubscriptions,
		RateLimit:         cfg.RateLimit,
		RateWindow:        cfg.RateWindow,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SendQueueSize:     cfg.SendQueueSize,
		HistoryLimit:      cfg.HistoryLimit,
		HistoryTTL:        cfg.HistoryTTL,
		WhaleThreshold:    cfg.WhaleThreshold,
	}
	a.reg = notify.NewRegistry(log, opts, a.metrics)

	if err := a.initStore(context.Background()); err != nil {
		return nil, err
	}

	verifier, err := newVerifier(log)
	if err != nil {
		a.closeClients()
		return nil, err
	}

	a.prefs = notify.NewPreferenceFilter()
	a.dispatcher = notify.NewDispatcher(log, a.reg, a.store, a.prefs, a.metrics)
	a.monitor = notify.NewHeartbeatMonitor(log, a.reg, a.metrics)
	a.ws = notify.NewWSGateway(log, a.reg, a.dispatcher, verifier, a.metrics)
	a.api = NewInternalAPI(log, a.dispatcher, a.prefs, cfg.InternalToken)

	if a.rdb != nil && cfg.IngressEnabled {
		a.ingress = notify.NewIngress(log, a.rdb, a.dispatcher)
	}

	if !a.api.Enabled() {
		log.Warn("internal_api.disabled", "reason", "HERALD_INTERNAL_API_TOKEN not set")
	}

	return a, nil
}

// initStore picks the history backend: Redis when configured, else Postgres,
// else the in-memory dev store.
func (a *App) initStore(ctx context.Context) error {
	switch {
	case a.cfg.RedisURL != "":
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return err
		}
		store, err := notify.NewRedisStore(rdb)
		if err != nil {
			_ = rdb.Close()
			return err
		}
		a.rdb = rdb
		a.store = store
		a.log.Info("history.redis_store")

	case a.cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return err
		}
		store, err := notify.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return err
		}
		a.dbPool = pool
		a.store = store
		a.log.Info("history.postgres_store")

	default:
		a.store = notify.NewInMemoryStore()
		a.log.Info("history.inmemory_store")
	}
	return nil
}

// newVerifier builds the wallet token verifier from the environment. Without
// key material the broker still serves anonymous connections; tokens are
// then rejected at the handshake.
func newVerifier(log Logger) (auth.Verifier, error) {
	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		if errors.Is(err, auth.ErrConfig) {
			log.Warn("auth.disabled", "reason", "no PASETO key configured, anonymous connections only")
			return nil, nil
		}
		return nil, err
	}
	return auth.NewPasetoVerifier(authCfg)
}

// Run starts the broker background loops and the HTTP server, then blocks
// until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go a.monitor.Run(bgCtx)
	if a.ingress != nil {
		go a.ingress.Run(bgCtx)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.rdb, a.promReg, a.ws, a.api)

	handler := WithRequestLogging(WithSecurityHeaders(mux), a.log)

	// No global Read/Write timeouts: they would cut long-lived WebSocket
	// connections. Per-frame deadlines live in the gateway.
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr,
		"ingress", a.ingress != nil, "internal_api", a.api.Enabled())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting upgrades, then drain live connections and wait for
	// in-flight history writes before the store clients go away.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	stopBackground()
	a.reg.Drain("server shutting down")
	a.dispatcher.Flush()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.closeClients()

	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeClients() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}
