package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"herald/cmd/internal/auth"
	v1 "herald/shared/contracts/notify/v1"
)

const (
	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint of the notification broker.
//
// It runs the handshake gate (capacity check, optional token verification),
// registers admitted connections, and drives the per-connection read loop
// that routes subscribe/unsubscribe/ping/ack frames. Liveness detection is
// the HeartbeatMonitor's job; the gateway only installs the socket hooks.
type WSGateway struct {
	log      *slog.Logger
	reg      *Registry
	d        *Dispatcher
	verifier auth.Verifier
	metrics  *Metrics

	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	devInsecure  bool
	writeTimeout time.Duration
}

// NewWSGateway constructs a gateway with secure defaults. verifier may be
// nil, in which case every presented token is rejected (anonymous-only mode).
func NewWSGateway(log *slog.Logger, reg *Registry, d *Dispatcher, verifier auth.Verifier, metrics *Metrics) *WSGateway {
	g := &WSGateway{
		log:      log,
		reg:      reg,
		d:        d,
		verifier: verifier,
		metrics:  metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("HERALD_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("HERALD_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("HERALD_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("HERALD_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS runs the handshake gate, upgrades the request and drives the
// connection until teardown.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.countReject("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Capacity is checked before any identity derivation so overload is
	// rejected without paying token-verification cost.
	if g.reg.AtCapacity() {
		g.log.Info("ws.reject.capacity", "remote", r.RemoteAddr)
		g.countReject("capacity")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	wallet, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.token", "remote", r.RemoteAddr)
		g.countReject("token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	client, err := g.reg.Register(wallet, time.Now().UTC())
	if err != nil {
		// Per-wallet cap, or the global cap was crossed since the pre-check.
		g.countReject("capacity")
		_ = conn.Close(websocket.StatusTryAgainLater, "capacity exceeded")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Deregistration removes the connection from
	// every index before the socket is torn down, so a racing fan-out sees
	// the client as gone rather than half-removed.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.reg.Deregister(client.ID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	client.BindTransport(
		func(pingCtx context.Context) error { return conn.Ping(pingCtx) },
		func(reason string) { _ = conn.Close(websocket.StatusGoingAway, reason) },
	)

	heartbeatSec := int(g.reg.Options().HeartbeatInterval / time.Second)
	g.reg.Send(client, v1.Connected(client.ID, client.Authenticated(), g.reg.Channels(client.ID), heartbeatSec))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

readLoop:
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "connection_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		client.Touch(now)
		client.inbound.Add(1)

		if !g.reg.Allow(client.ID, now) {
			g.reg.Send(client, v1.Errorf(v1.CodeRateLimited, "rate limit exceeded"))
			continue readLoop
		}

		var frame v1.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.reg.Send(client, v1.Errorf(v1.CodeMalformed, "invalid JSON"))
			continue readLoop
		}
		if err := frame.Validate(); err != nil {
			g.reg.Send(client, v1.Errorf(v1.CodeMalformed, "%s", err.Error()))
			continue readLoop
		}

		switch frame.Type {
		case v1.TypeSubscribe:
			if err := g.reg.Subscribe(client.ID, frame.Channel); err != nil {
				g.reg.Send(client, subscribeErrorFrame(err, frame.Channel))
				continue readLoop
			}
			g.reg.Send(client, v1.ServerFrame{Type: v1.TypeSubscribed, Channel: frame.Channel})

		case v1.TypeUnsubscribe:
			g.reg.Unsubscribe(client.ID, frame.Channel)
			g.reg.Send(client, v1.ServerFrame{Type: v1.TypeUnsubscribed, Channel: frame.Channel})

		case v1.TypePing:
			g.reg.Send(client, v1.ServerFrame{Type: v1.TypePong})

		case v1.TypeAck:
			// Best-effort unread bookkeeping; delivery is at-least-once and
			// unaffected by acks.
			_ = g.d.Ack(ctx, client.Wallet, frame.NotificationID)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")

	select {
	case <-writerDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate derives the caller's identity from the optional token query
// parameter. No token means anonymous access (global channel only).
func (g *WSGateway) authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return "", nil
	}
	if g.verifier == nil {
		return "", auth.ErrInvalidToken
	}
	id, err := g.verifier.Verify(token, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id.Wallet, nil
}

func (g *WSGateway) countReject(reason string) {
	if g.metrics != nil {
		g.metrics.HandshakeRejects.WithLabelValues(reason).Inc()
	}
}

func subscribeErrorFrame(err error, channel string) v1.ServerFrame {
	switch {
	case errors.Is(err, ErrSubscriptionLimit):
		return v1.Errorf(v1.CodeSubscriptionLimit, "subscription limit exceeded")
	case errors.Is(err, ErrChannelUnauthorized):
		return v1.Errorf(v1.CodeChannelForbidden, "channel not authorized: %s", channel)
	default:
		return v1.Errorf(v1.CodeMalformed, "unknown channel: %s", channel)
	}
}

// ---- frame IO ----

func writeFrame(parent context.Context, conn *websocket.Conn, frame v1.ServerFrame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Only hosts extracted from the allowlist are
	// accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
