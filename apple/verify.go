package apple

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// identity tokens are always signed ES256 by Apple
var identityTokenAlgs = []jose.SignatureAlgorithm{jose.ES256}

// Bool is a bool that additionally accepts Apple's string encodings
// when unmarshaling JSON: Apple emits "true"/"false" strings for some
// claims on some flows and JSON booleans on others.
type Bool bool

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (b *Bool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`:
		*b = false
	default:
		return fmt.Errorf("%q is not a bool or a bool string: %w", string(data), ErrInvalidParameter)
	}
	return nil
}

// IdentityTokenClaims is the decoded, verified payload of an identity
// token issued by Apple.
type IdentityTokenClaims struct {
	// Issuer is Apple's issuer URL.
	Issuer string `json:"iss"`

	// Subject is the unique, stable identifier Apple assigns the user
	// for this team.
	Subject string `json:"sub"`

	// Audience contains the Service ID the token was issued to.
	Audience jwt.Audience `json:"aud"`

	// Expiry is when the token expires.
	Expiry *jwt.NumericDate `json:"exp"`

	// IssuedAt is when the token was issued.
	IssuedAt *jwt.NumericDate `json:"iat"`

	// AuthTime is when the user last authenticated with Apple.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	// CodeHash binds the token to the authorization code it was issued
	// alongside.
	CodeHash string `json:"c_hash,omitempty"`

	// Nonce echoes the nonce from the authorization request.
	Nonce string `json:"nonce,omitempty"`

	// NonceSupported reports whether the platform that requested the
	// token supports nonces.
	NonceSupported Bool `json:"nonce_supported,omitempty"`

	// Email is the user's email address, or their private relay address.
	Email string `json:"email,omitempty"`

	// EmailVerified reports whether Apple has verified the email.
	EmailVerified Bool `json:"email_verified,omitempty"`

	// IsPrivateEmail reports whether Email is a private relay address.
	IsPrivateEmail Bool `json:"is_private_email,omitempty"`

	// RealUserStatus is Apple's real-user indicator, sent for App flows.
	RealUserStatus int `json:"real_user_status,omitempty"`
}

// VerifyIDToken verifies an identity token returned by Apple: it
// resolves the signing key named by the token's kid header, verifies
// the ES256 signature and validates the issuer, audience and expiry
// claims. A nonce supplied via WithNonce and a subject supplied via
// WithExpectedSubject must match their claims exactly.
//
// Each failure mode is distinguishable with errors.Is: ErrMalformedToken,
// keyset.ErrKeyNotFound, ErrInvalidSignature, ErrInvalidIssuer,
// ErrInvalidAudience, ErrExpiredToken, ErrInvalidSubject and
// ErrInvalidNonce.
//
// Supported options: WithNonce, WithExpectedSubject,
// WithIgnoreExpiration
func (c *Client) VerifyIDToken(ctx context.Context, t IdToken, opt ...Option) (*IdentityTokenClaims, error) {
	const op = "Client.VerifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifyOpts(opt...)

	parsed, err := jwt.ParseSigned(string(t), identityTokenAlgs)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse id_token: %w: %w", op, ErrMalformedToken, err)
	}
	if len(parsed.Headers) != 1 {
		return nil, fmt.Errorf("%s: id_token has %d signatures, expected 1: %w", op, len(parsed.Headers), ErrMalformedToken)
	}
	kid := parsed.Headers[0].KeyID
	if kid == "" {
		return nil, fmt.Errorf("%s: id_token header has no kid: %w", op, ErrMalformedToken)
	}

	key, err := c.resolver.ResolveKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to resolve signing key: %w", op, err)
	}

	var claims IdentityTokenClaims
	if err := parsed.Claims(key, &claims); err != nil {
		return nil, fmt.Errorf("%s: id_token signature verification failed: %w: %w", op, ErrInvalidSignature, err)
	}

	if claims.Issuer != c.providerURL {
		return nil, fmt.Errorf("%s: id_token issuer %q is not %q: %w", op, claims.Issuer, c.providerURL, ErrInvalidIssuer)
	}
	if !claims.Audience.Contains(c.config.ClientID) {
		return nil, fmt.Errorf("%s: id_token audience does not contain the client id: %w", op, ErrInvalidAudience)
	}
	if !opts.withIgnoreExpiration {
		if claims.Expiry == nil {
			return nil, fmt.Errorf("%s: id_token has no exp claim: %w", op, ErrMalformedToken)
		}
		if claims.Expiry.Time().Before(c.config.Now()) {
			return nil, fmt.Errorf("%s: id_token expired at %s: %w", op, claims.Expiry.Time(), ErrExpiredToken)
		}
	}
	if opts.withSubject != "" && claims.Subject != opts.withSubject {
		return nil, fmt.Errorf("%s: id_token subject does not match the expected subject: %w", op, ErrInvalidSubject)
	}
	if opts.withNonce != "" && claims.Nonce != opts.withNonce {
		return nil, fmt.Errorf("%s: id_token nonce does not match the expected nonce: %w", op, ErrInvalidNonce)
	}
	return &claims, nil
}

// verifyOptions is the set of available options for Client.VerifyIDToken
type verifyOptions struct {
	withNonce            string
	withSubject          string
	withIgnoreExpiration bool
}

// verifyDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func verifyDefaults() verifyOptions {
	return verifyOptions{}
}

// getVerifyOpts gets the defaults and applies the opt overrides passed
// in.
func getVerifyOpts(opt ...Option) verifyOptions {
	opts := verifyDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNonce provides an optional nonce for: Client.AuthURL,
// Client.VerifyIDToken. On AuthURL it is sent to Apple with the
// authorization request; on VerifyIDToken it must match the token's
// nonce claim exactly.
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withNonce = nonce
		case *verifyOptions:
			v.withNonce = nonce
		}
	}
}

// WithExpectedSubject provides an optional subject the verified
// id_token's sub claim must equal exactly.
func WithExpectedSubject(sub string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withSubject = sub
		}
	}
}

// WithIgnoreExpiration provides an optional flag to skip expiry
// validation, which allows decoding claims from tokens that have
// already expired.
func WithIgnoreExpiration() Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withIgnoreExpiration = true
		}
	}
}
