package apple

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// MaxClientSecretLifetime is the longest lifetime Apple accepts for a
// client secret: 15,777,000 seconds, i.e. six months. It is also the
// default lifetime.
const MaxClientSecretLifetime = 15777000 * time.Second

// CreateClientSecret mints the signed JWT Apple requires as the
// client_secret of token requests: iss is the Team ID, sub the Service
// ID, aud Apple's issuer, signed ES256 with the configured key and its
// kid in the header.
//
// Lifetimes above MaxClientSecretLifetime are rejected rather than
// clamped, since Apple would reject the resulting secret.
//
// Supported options: WithClientSecretLifetime
func (c *Client) CreateClientSecret(opt ...Option) (ClientSecret, error) {
	const op = "Client.CreateClientSecret"
	opts := getSecretOpts(opt...)
	lifetime := opts.withLifetime
	if lifetime == 0 {
		lifetime = MaxClientSecretLifetime
	}
	if lifetime < 0 {
		return "", fmt.Errorf("%s: client secret lifetime is negative: %w", op, ErrInvalidParameter)
	}
	if lifetime > MaxClientSecretLifetime {
		return "", fmt.Errorf("%s: client secret lifetime %s exceeds Apple's maximum of %s: %w",
			op, lifetime, MaxClientSecretLifetime, ErrInvalidParameter)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: c.config.signingKey},
		(&jose.SignerOptions{
			ExtraHeaders: map[jose.HeaderKey]interface{}{
				"kid": c.config.KeyID,
			},
		}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w: %w", op, ErrSigningFailed, err)
	}

	now := c.config.Now().UTC()
	claims := jwt.Claims{
		Issuer:   c.config.TeamID,
		Subject:  c.config.ClientID,
		Audience: jwt.Audience{c.providerURL},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(lifetime)),
	}
	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize token: %w: %w", op, ErrSigningFailed, err)
	}
	return ClientSecret(raw), nil
}

// secretOptions is the set of available options for
// Client.CreateClientSecret
type secretOptions struct {
	withLifetime time.Duration
}

// secretDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func secretDefaults() secretOptions {
	return secretOptions{}
}

// getSecretOpts gets the defaults and applies the opt overrides passed
// in.
func getSecretOpts(opt ...Option) secretOptions {
	opts := secretDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecretLifetime provides an optional lifetime for the minted
// client secret. The default, and maximum, is MaxClientSecretLifetime.
func WithClientSecretLifetime(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*secretOptions); ok {
			o.withLifetime = d
		}
	}
}
