package notify

import (
	"context"
	"sync"
)

// Decision is the outcome of a delivery-eligibility check.
type Decision struct {
	Send   bool
	Reason string
}

// EligibilityFilter decides whether a wallet should receive a notification
// kind on a channel. It is consulted by the producers, above the dispatch
// core: the core itself delivers whatever it is handed.
type EligibilityFilter interface {
	ShouldSend(ctx context.Context, wallet, kind, channel string) Decision
}

// AllowAll permits everything. It is the default filter.
type AllowAll struct{}

// ShouldSend implements EligibilityFilter.
func (AllowAll) ShouldSend(_ context.Context, _, _, _ string) Decision {
	return Decision{Send: true}
}

// PreferenceFilter is an in-memory per-wallet mute list.
//
// Policy: a kind that no preference mentions is allowed, so new notification
// kinds reach users without a preference migration.
type PreferenceFilter struct {
	mu    sync.RWMutex
	muted map[string]map[string]struct{} // wallet -> muted kind set
}

// NewPreferenceFilter constructs an empty filter (everything allowed).
func NewPreferenceFilter() *PreferenceFilter {
	return &PreferenceFilter{muted: make(map[string]map[string]struct{})}
}

// Mute suppresses a notification kind for a wallet.
func (f *PreferenceFilter) Mute(wallet, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.muted[wallet]
	if set == nil {
		set = make(map[string]struct{})
		f.muted[wallet] = set
	}
	set[kind] = struct{}{}
}

// Unmute re-enables a notification kind for a wallet.
func (f *PreferenceFilter) Unmute(wallet, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if set := f.muted[wallet]; set != nil {
		delete(set, kind)
		if len(set) == 0 {
			delete(f.muted, wallet)
		}
	}
}

// ShouldSend implements EligibilityFilter. Broadcast checks (empty wallet)
// always pass; muting is a per-wallet concern.
func (f *PreferenceFilter) ShouldSend(_ context.Context, wallet, kind, _ string) Decision {
	if wallet == "" {
		return Decision{Send: true}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if set := f.muted[wallet]; set != nil {
		if _, muted := set[kind]; muted {
			return Decision{Send: false, Reason: "muted"}
		}
	}
	return Decision{Send: true}
}
