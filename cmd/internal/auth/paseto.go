package auth

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const walletClaim = "wlt"

type pasetoV4Verifier struct {
	issuer    string
	clockSkew time.Duration

	public paseto.V4AsymmetricPublicKey

	// Present only when constructed from a secret key (dev/test mode).
	secret    *paseto.V4AsymmetricSecretKey
	mintedTTL time.Duration
}

// NewPasetoVerifier builds a Verifier for PASETO v4.public wallet tokens.
//
// It uses an Ed25519 public key and enforces issuer and expiration rules.
// Clock skew is applied during verification via ValidAt to tolerate minor
// clock differences between the auth service and the broker.
func NewPasetoVerifier(cfg Config) (Verifier, error) {
	v := &pasetoV4Verifier{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		mintedTTL: 15 * time.Minute,
	}

	switch {
	case cfg.PasetoV4SecretKeyHex != "":
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		v.secret = &secret
		v.public = secret.Public()
	case cfg.PasetoV4PublicKeyHex != "":
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoV4PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		v.public = public
	default:
		return nil, ErrConfig
	}

	return v, nil
}

// Verify implements Verifier.
func (v *pasetoV4Verifier) Verify(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	// Clock-skew tolerance:
	// Validate slightly in the future to avoid failing "nbf" when clocks
	// differ. This also makes expiration checks slightly stricter.
	validNow := now.Add(v.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	wallet, err := parsed.GetString(walletClaim)
	if err != nil || wallet == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{Wallet: wallet}, nil
}

// Issue mints a wallet token. Only available when the verifier was
// constructed from a secret key; production verify-only deployments get an
// ErrConfig. Used by tests and local tooling.
func (v *pasetoV4Verifier) Issue(wallet string, now time.Time) (string, error) {
	if v.secret == nil {
		return "", ErrConfig
	}

	tok := paseto.NewToken()
	tok.SetIssuer(v.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(v.mintedTTL))
	_ = tok.Set(walletClaim, wallet)

	return tok.V4Sign(*v.secret, nil), nil
}

// Issuer is the optional minting side of a Verifier (dev/test mode).
type Issuer interface {
	Issue(wallet string, now time.Time) (string, error)
}
