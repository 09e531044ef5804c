// Package main provides a CI-friendly WebSocket smoke test for the Herald
// notification broker.
//
// It validates:
//   - handshake + connected greeting
//   - channel subscribe/unsubscribe echo
//   - ping -> pong
//   - in-band error for an unknown channel
//   - optional: internal API notify/broadcast fanout and targeting
//     (requires -internal-url and -internal-token)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "herald/shared/contracts/notify/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name         string
	conn         *websocket.Conn
	connectionID string
	channels     []string

	inbox chan v1.ServerFrame
	errCh chan error
}

func main() {
	var (
		wsURL         = flag.String("url", "ws://127.0.0.1:8080/ws/notifications", "WebSocket URL")
		origin        = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token         = flag.String("token", "", "Bearer token for client A (authenticated handshake)")
		internalURL   = flag.String("internal-url", "", "Base URL of the internal API, e.g. http://127.0.0.1:8080 (empty skips producer steps)")
		internalToken = flag.String("internal-token", "", "X-Internal-Token for the internal API")
		timeout       = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose       = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *token, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, "", *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s channels=%v B=%s origin=%q\n", a.connectionID, a.channels, b.connectionID, *origin)
	}

	mustSubscribe(root, a, "burns", *timeout)

	mustPingPong(root, a, *timeout)
	mustPingPong(root, b, *timeout)

	mustSubscribeRejected(root, a, "no-such-channel", v1.CodeMalformed, *timeout)

	if strings.TrimSpace(*internalURL) != "" && strings.TrimSpace(*internalToken) != "" {
		// Broadcast to burns: A is subscribed, B is not.
		mustBroadcast(*internalURL, *internalToken, "burns", v1.KindBurn, map[string]any{"amount": 1000}, *timeout)
		n := mustReadNotification(root, a, v1.KindBurn, *timeout)
		if strings.TrimSpace(n.ID) == "" || n.Timestamp.IsZero() {
			fatalf("broadcast notification missing id/timestamp: %+v", n)
		}
		mustAssertNoType(root, b, v1.TypeNotification, 1200*time.Millisecond)

		// Global announcement reaches both.
		mustBroadcast(*internalURL, *internalToken, "global", v1.KindAnnouncement, map[string]any{"text": "smoke"}, *timeout)
		_ = mustReadNotification(root, a, v1.KindAnnouncement, *timeout)
		_ = mustReadNotification(root, b, v1.KindAnnouncement, *timeout)
	}

	mustUnsubscribe(root, a, "burns", *timeout)

	fmt.Printf("OK: A=%s B=%s\n", a.connectionID, b.connectionID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	target := wsURL
	if strings.TrimSpace(token) != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "token=" + url.QueryEscape(token)
	}

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.ServerFrame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	greeting := c.mustReadUntilType(parent, v1.TypeConnected, stepTimeout)
	if strings.TrimSpace(greeting.ConnectionID) == "" {
		fatalf("connected frame missing connectionId (%s)", name)
	}
	if !containsChannel(greeting.Channels, "global") {
		fatalf("connected frame missing global channel (%s): %v", name, greeting.Channels)
	}
	if greeting.HeartbeatSec <= 0 {
		fatalf("connected frame invalid heartbeatSec (%s): %d", name, greeting.HeartbeatSec)
	}
	c.connectionID = greeting.ConnectionID
	c.channels = greeting.Channels

	return c
}

func containsChannel(channels []string, want string) bool {
	for _, ch := range channels {
		if ch == want {
			return true
		}
	}
	return false
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var frame v1.ServerFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- frame:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustSubscribe(parent context.Context, c *smokeClient, channel string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.ClientFrame{Type: v1.TypeSubscribe, Channel: channel}, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout)
	if echo.Channel != channel {
		fatalf("subscribed echo channel mismatch (%s): got=%q want=%q", c.name, echo.Channel, channel)
	}
}

func mustUnsubscribe(parent context.Context, c *smokeClient, channel string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.ClientFrame{Type: v1.TypeUnsubscribe, Channel: channel}, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeUnsubscribed, stepTimeout)
	if echo.Channel != channel {
		fatalf("unsubscribed echo channel mismatch (%s): got=%q want=%q", c.name, echo.Channel, channel)
	}
}

func mustSubscribeRejected(parent context.Context, c *smokeClient, channel string, wantCode int, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.ClientFrame{Type: v1.TypeSubscribe, Channel: channel}, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for error frame (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for error frame (%s): %v", c.name, err)
		case frame, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for error frame (%s)", c.name)
			}
			if frame.Type != v1.TypeError {
				fatalf("unexpected frame type (%s): got=%q want=%q", c.name, frame.Type, v1.TypeError)
			}
			if frame.Code != wantCode {
				fatalf("error code mismatch (%s): got=%d want=%d", c.name, frame.Code, wantCode)
			}
			return
		}
	}
}

func mustPingPong(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.ClientFrame{Type: v1.TypePing}, stepTimeout)
	_ = c.mustReadUntilType(parent, v1.TypePong, stepTimeout)
}

func mustBroadcast(baseURL, token, channel, kind string, data any, stepTimeout time.Duration) {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"type":    kind,
		"data":    data,
	})
	if err != nil {
		fatalf("marshal broadcast request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/internal/v1/broadcast", bytes.NewReader(payload))
	if err != nil {
		fatalf("build broadcast request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", token)

	client := &http.Client{Timeout: stepTimeout}
	resp, err := client.Do(req)
	if err != nil {
		fatalf("broadcast request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("broadcast status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
}

func mustReadNotification(parent context.Context, c *smokeClient, wantKind string, stepTimeout time.Duration) v1.Notification {
	frame := c.mustReadUntilType(parent, v1.TypeNotification, stepTimeout)
	if frame.Notification == nil {
		fatalf("notification frame missing payload (%s)", c.name)
	}
	if frame.Notification.Kind != wantKind {
		fatalf("notification kind mismatch (%s): got=%q want=%q", c.name, frame.Notification.Kind, wantKind)
	}
	return *frame.Notification
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case frame, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if frame.Type == v1.TypeError {
				fatalf("server error (%s): code=%d msg=%q", c.name, frame.Code, frame.Error)
			}
			if frame.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.ServerFrame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case frame, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if frame.Type == wantType {
				return frame
			}
			if frame.Type == v1.TypeError {
				fatalf("server error (%s): code=%d msg=%q", c.name, frame.Code, frame.Error)
			}
			// Notifications can interleave with echoes; skip them.
			if frame.Type == v1.TypeNotification {
				continue
			}
			fatalf("unexpected frame type (%s): got=%q want=%q", c.name, frame.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, frame v1.ClientFrame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
