package notify

import "strings"

// Channel grammar: four fixed logical channels plus the parameterized
// personal channel "personal:<wallet>".
const (
	ChannelGlobal      = "global"
	ChannelBurns       = "burns"
	ChannelLeaderboard = "leaderboard"
	ChannelEvents      = "events"

	personalPrefix = "personal:"
)

// PersonalChannel returns the personal channel address for a wallet.
func PersonalChannel(wallet string) string {
	return personalPrefix + wallet
}

// personalWallet extracts the wallet from a personal channel address.
func personalWallet(channel string) (string, bool) {
	if !strings.HasPrefix(channel, personalPrefix) {
		return "", false
	}
	wallet := channel[len(personalPrefix):]
	if wallet == "" {
		return "", false
	}
	return wallet, true
}

// ValidChannel reports whether channel is part of the grammar.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelGlobal, ChannelBurns, ChannelLeaderboard, ChannelEvents:
		return true
	}
	_, ok := personalWallet(channel)
	return ok
}
