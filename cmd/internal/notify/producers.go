package notify

import (
	"context"

	v1 "herald/shared/contracts/notify/v1"
)

// Domain event producers. Each is a thin builder that constructs a typed
// payload, consults the eligibility filter, and calls the dispatcher's
// primitives. The filter decides whether to dispatch at all; the dispatch
// core applies no preference logic of its own.

// BurnEvent describes a confirmed token burn.
type BurnEvent struct {
	Wallet    string `json:"wallet"`
	Amount    uint64 `json:"amount"`
	Signature string `json:"signature,omitempty"`
}

// Achievement describes an unlocked achievement.
type Achievement struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	XP   int64  `json:"xp,omitempty"`
}

// RankChange describes a leaderboard rank movement for one wallet.
type RankChange struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

// LeaderboardEntry is one row of a leaderboard snapshot.
type LeaderboardEntry struct {
	Wallet string `json:"wallet"`
	Rank   int    `json:"rank"`
	Score  int64  `json:"score"`
}

// LeaderboardUpdate is a refreshed leaderboard snapshot.
type LeaderboardUpdate struct {
	Season  string             `json:"season,omitempty"`
	Entries []LeaderboardEntry `json:"entries"`
}

// Announcement is an operator-authored system message.
type Announcement struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (d *Dispatcher) allowed(ctx context.Context, wallet, kind, channel string) bool {
	decision := d.filter.ShouldSend(ctx, wallet, kind, channel)
	if !decision.Send {
		d.log.Debug("dispatch.filtered", "wallet", wallet, "kind", kind, "channel", channel, "reason", decision.Reason)
	}
	return decision.Send
}

// NotifyBurn notifies the burning wallet, broadcasts on the burns channel,
// and above the whale threshold additionally broadcasts a distinct whale
// alert to the global channel. One domain event, up to three dispatches.
func (d *Dispatcher) NotifyBurn(ctx context.Context, ev BurnEvent) int {
	delivered := 0

	if d.allowed(ctx, ev.Wallet, v1.KindBurn, PersonalChannel(ev.Wallet)) {
		delivered += d.NotifyWallet(ctx, ev.Wallet, NewNotification(v1.KindBurn, ev))
	}
	if d.allowed(ctx, "", v1.KindBurn, ChannelBurns) {
		delivered += d.BroadcastToChannel(ctx, ChannelBurns, NewNotification(v1.KindBurn, ev))
	}
	if ev.Amount >= d.opts.WhaleThreshold && d.allowed(ctx, "", v1.KindWhaleBurn, ChannelGlobal) {
		delivered += d.BroadcastToChannel(ctx, ChannelGlobal, NewNotification(v1.KindWhaleBurn, ev))
	}
	return delivered
}

// NotifyAchievement notifies a wallet about an unlocked achievement.
func (d *Dispatcher) NotifyAchievement(ctx context.Context, wallet string, a Achievement) int {
	if !d.allowed(ctx, wallet, v1.KindAchievement, PersonalChannel(wallet)) {
		return 0
	}
	return d.NotifyWallet(ctx, wallet, NewNotification(v1.KindAchievement, a))
}

// NotifyLevelUp notifies a wallet that it reached a new level.
func (d *Dispatcher) NotifyLevelUp(ctx context.Context, wallet string, level int) int {
	if !d.allowed(ctx, wallet, v1.KindLevelUp, PersonalChannel(wallet)) {
		return 0
	}
	payload := struct {
		Level int `json:"level"`
	}{Level: level}
	return d.NotifyWallet(ctx, wallet, NewNotification(v1.KindLevelUp, payload))
}

// NotifyRankChange notifies a wallet that its leaderboard rank moved.
func (d *Dispatcher) NotifyRankChange(ctx context.Context, wallet string, change RankChange) int {
	if !d.allowed(ctx, wallet, v1.KindRankChange, PersonalChannel(wallet)) {
		return 0
	}
	return d.NotifyWallet(ctx, wallet, NewNotification(v1.KindRankChange, change))
}

// NotifyLeaderboardUpdate broadcasts a leaderboard snapshot on the
// leaderboard channel.
func (d *Dispatcher) NotifyLeaderboardUpdate(ctx context.Context, update LeaderboardUpdate) int {
	if !d.allowed(ctx, "", v1.KindLeaderboardUpdate, ChannelLeaderboard) {
		return 0
	}
	return d.BroadcastToChannel(ctx, ChannelLeaderboard, NewNotification(v1.KindLeaderboardUpdate, update))
}

// NotifyAnnouncement broadcasts a system announcement on the global channel.
func (d *Dispatcher) NotifyAnnouncement(ctx context.Context, a Announcement) int {
	if !d.allowed(ctx, "", v1.KindAnnouncement, ChannelGlobal) {
		return 0
	}
	return d.BroadcastToChannel(ctx, ChannelGlobal, NewNotification(v1.KindAnnouncement, a))
}
