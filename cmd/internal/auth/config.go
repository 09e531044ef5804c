package auth

import (
	"os"
	"time"
)

// Config defines runtime configuration for wallet token verification.
//
// It is intentionally explicit and environment-driven so that production
// deployments can rotate keys and tune skew without code changes.
type Config struct {
	// Issuer is the required value of the "iss" claim.
	Issuer string

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key used to
	// verify PASETO v4.public tokens minted by the platform auth service.
	PasetoV4PublicKeyHex string

	// PasetoV4SecretKeyHex optionally enables local token minting
	// (development and tests). Production deployments leave it unset and
	// configure only the public key.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:    "herald",
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// One of:
//   - HERALD_PASETO_V4_PUBLIC_KEY_HEX (verify-only)
//   - HERALD_PASETO_V4_SECRET_KEY_HEX (verify + mint, dev)
//
// Optional:
//   - HERALD_AUTH_ISSUER
//   - HERALD_AUTH_CLOCK_SKEW (Go duration)
//
// Returns ErrConfig on invalid values.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("HERALD_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("HERALD_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4PublicKeyHex = os.Getenv("HERALD_PASETO_V4_PUBLIC_KEY_HEX")
	cfg.PasetoV4SecretKeyHex = os.Getenv("HERALD_PASETO_V4_SECRET_KEY_HEX")

	if cfg.PasetoV4PublicKeyHex == "" && cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
