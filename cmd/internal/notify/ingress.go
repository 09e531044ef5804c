package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis pub/sub channels that platform services publish domain events on.
// One channel per event kind keeps payload decoding unambiguous.
const (
	IngressChannelBurn         = "herald:events:burn"
	IngressChannelAchievement  = "herald:events:achievement"
	IngressChannelLevelUp      = "herald:events:level_up"
	IngressChannelRankChange   = "herald:events:rank_change"
	IngressChannelLeaderboard  = "herald:events:leaderboard"
	IngressChannelAnnouncement = "herald:events:announcement"
)

// Ingress consumes domain events from Redis pub/sub and feeds them to the
// dispatcher's producers. It is optional: deployments without Redis push
// events through the internal HTTP API instead.
type Ingress struct {
	log *slog.Logger
	rdb *redis.Client
	d   *Dispatcher
}

// NewIngress constructs the Redis event ingress.
func NewIngress(log *slog.Logger, rdb *redis.Client, d *Dispatcher) *Ingress {
	return &Ingress{log: log, rdb: rdb, d: d}
}

// Run subscribes and dispatches until ctx is cancelled.
func (i *Ingress) Run(ctx context.Context) {
	pubsub := i.rdb.Subscribe(ctx,
		IngressChannelBurn,
		IngressChannelAchievement,
		IngressChannelLevelUp,
		IngressChannelRankChange,
		IngressChannelLeaderboard,
		IngressChannelAnnouncement,
	)
	defer func() { _ = pubsub.Close() }()

	i.log.Info("ingress.start")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			i.log.Info("ingress.stop")
			return
		case msg, ok := <-ch:
			if !ok {
				i.log.Warn("ingress.channel.closed")
				return
			}
			i.Handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

type achievementEvent struct {
	Wallet      string      `json:"wallet"`
	Achievement Achievement `json:"achievement"`
}

type levelUpEvent struct {
	Wallet string `json:"wallet"`
	Level  int    `json:"level"`
}

type rankChangeEvent struct {
	Wallet   string `json:"wallet"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
}

// Handle decodes one published event and invokes the matching producer.
// Undecodable payloads are logged and dropped; a bad producer cannot take
// the ingress down.
func (i *Ingress) Handle(ctx context.Context, channel string, payload []byte) {
	var delivered int
	var err error

	switch channel {
	case IngressChannelBurn:
		var ev BurnEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyBurn(ctx, ev)
		}
	case IngressChannelAchievement:
		var ev achievementEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyAchievement(ctx, ev.Wallet, ev.Achievement)
		}
	case IngressChannelLevelUp:
		var ev levelUpEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyLevelUp(ctx, ev.Wallet, ev.Level)
		}
	case IngressChannelRankChange:
		var ev rankChangeEvent
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyRankChange(ctx, ev.Wallet, RankChange{Previous: ev.Previous, Current: ev.Current})
		}
	case IngressChannelLeaderboard:
		var ev LeaderboardUpdate
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyLeaderboardUpdate(ctx, ev)
		}
	case IngressChannelAnnouncement:
		var ev Announcement
		if err = json.Unmarshal(payload, &ev); err == nil {
			delivered = i.d.NotifyAnnouncement(ctx, ev)
		}
	default:
		i.log.Warn("ingress.unknown.channel", "channel", channel)
		return
	}

	if err != nil {
		i.log.Warn("ingress.decode.fail", "channel", channel, "err", err)
		return
	}
	i.log.Debug("ingress.dispatched", "channel", channel, "delivered", delivered)
}
