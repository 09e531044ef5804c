// Package v1 defines the Herald notification wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frame type constants (wire-stable).
//
// Client -> server frames.
const (
	// TypeSubscribe requests membership in a channel.
	TypeSubscribe = "subscribe"
	// TypeUnsubscribe drops membership in a channel.
	TypeUnsubscribe = "unsubscribe"
	// TypePing is an application-level liveness probe; the server answers with pong.
	TypePing = "ping"
	// TypeAck marks a delivered notification as read.
	TypeAck = "ack"
)

// Server -> client frames.
const (
	// TypeConnected is sent once, immediately after a successful handshake.
	TypeConnected = "connected"
	// TypeNotification carries one enriched notification envelope.
	TypeNotification = "notification"
	// TypeSubscribed / TypeUnsubscribed echo a successful channel mutation.
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	// TypePong answers a client ping.
	TypePong = "pong"
	// TypeError is a generic in-band error frame; the connection stays open.
	TypeError = "error"
)

// Notification kinds produced by the platform.
const (
	KindBurn              = "burn"
	KindWhaleBurn         = "whale_burn"
	KindAchievement       = "achievement"
	KindLevelUp           = "level_up"
	KindRankChange        = "rank_change"
	KindLeaderboardUpdate = "leaderboard_update"
	KindAnnouncement      = "announcement"
)

// Error codes carried by TypeError frames. HTTP-flavored where an obvious
// equivalent exists, 4xxx otherwise.
const (
	CodeUnauthorized      = 401
	CodeRateLimited       = 429
	CodeCapacity          = 503
	CodeMalformed         = 4000
	CodeSubscriptionLimit = 4001
	CodeChannelForbidden  = 4003
)

// Notification is the enriched, immutable envelope that flows from the
// dispatcher to persistence and to live connections. The channel it is
// delivered on is a dispatch detail, not part of the envelope.
type Notification struct {
	ID        string          `json:"id"`
	Kind      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Read      bool            `json:"read"`
}

// ClientFrame is a frame received from a client.
type ClientFrame struct {
	Type           string `json:"type"`
	Channel        string `json:"channel,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}

// Validate performs strict structural validation for an inbound frame.
// The frame type set is closed: anything else is rejected here so the
// gateway's routing switch can stay exhaustive.
func (f ClientFrame) Validate() error {
	switch f.Type {
	case TypeSubscribe, TypeUnsubscribe:
		if strings.TrimSpace(f.Channel) == "" {
			return errors.New("missing field: channel")
		}
		return nil
	case TypePing:
		return nil
	case TypeAck:
		if strings.TrimSpace(f.NotificationID) == "" {
			return errors.New("missing field: notificationId")
		}
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", f.Type)
	}
}

// ServerFrame is a frame sent to a client. Exactly one payload group is
// populated depending on Type.
type ServerFrame struct {
	Type string `json:"type"`

	// TypeConnected.
	ConnectionID  string   `json:"connectionId,omitempty"`
	Authenticated *bool    `json:"authenticated,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	// Heartbeat cadence hint so clients can schedule their own pings and
	// pick a reconnect backoff. Seconds.
	HeartbeatSec int `json:"heartbeatSec,omitempty"`

	// TypeSubscribed / TypeUnsubscribed.
	Channel string `json:"channel,omitempty"`

	// TypeNotification.
	Notification *Notification `json:"notification,omitempty"`

	// TypeError.
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Connected builds the post-handshake greeting frame.
func Connected(connectionID string, authenticated bool, channels []string, heartbeatSec int) ServerFrame {
	return ServerFrame{
		Type:          TypeConnected,
		ConnectionID:  connectionID,
		Authenticated: &authenticated,
		Channels:      channels,
		HeartbeatSec:  heartbeatSec,
	}
}

// Errorf builds an in-band error frame.
func Errorf(code int, format string, args ...any) ServerFrame {
	return ServerFrame{Type: TypeError, Code: code, Error: fmt.Sprintf(format, args...)}
}
