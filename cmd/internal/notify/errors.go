package notify

import "errors"

// Broker error taxonomy. Handshake-time failures terminate the connection
// attempt; everything else is reported in-band and leaves the connection open.
var (
	// ErrCapacityExceeded means the global or per-wallet connection cap is hit.
	ErrCapacityExceeded = errors.New("notify: connection capacity exceeded")

	// ErrSubscriptionLimit means the connection already holds the maximum
	// number of channel subscriptions.
	ErrSubscriptionLimit = errors.New("notify: subscription limit exceeded")

	// ErrChannelUnauthorized means a connection tried to subscribe to a
	// personal channel that does not match its own wallet.
	ErrChannelUnauthorized = errors.New("notify: channel unauthorized")

	// ErrUnknownChannel means the channel name is not part of the channel grammar.
	ErrUnknownChannel = errors.New("notify: unknown channel")

	// ErrRateLimited means the connection exceeded its inbound message budget.
	ErrRateLimited = errors.New("notify: rate limited")

	// ErrNotRegistered means the connection id is not (or no longer) registered.
	ErrNotRegistered = errors.New("notify: connection not registered")
)
