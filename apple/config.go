package apple

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ClientSecret is the signed JWT a client sends to Apple as its
// client_secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for a client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the credentials Apple issues for a registered
// Service ID. The private key must be the ES256 (P-256) key Apple
// generated for the configured key identifier, supplied either inline
// as PEM or as a path to a .p8 file, but not both.
type Config struct {
	// ClientID is the Apple Service ID, used as the oauth client_id and
	// as the expected audience of identity tokens.
	ClientID string

	// TeamID is the Apple Developer Team ID, asserted as the issuer of
	// client secrets.
	TeamID string

	// KeyID is the identifier of the private key registered with Apple,
	// sent as the kid header of client secrets.
	KeyID string

	// PrivateKey is an optional PEM-encoded ES256 private key. Mutually
	// exclusive with PrivateKeyPath.
	PrivateKey string

	// PrivateKeyPath is an optional path to a PEM-encoded ES256 private
	// key (Apple's .p8 download). Mutually exclusive with PrivateKey.
	PrivateKeyPath string

	// NowFunc is a time func that returns the current time, and
	// when it's nil time.Now is used.
	NowFunc func() time.Time

	// signingKey is the parsed private key, resolved once at
	// construction.
	signingKey *ecdsa.PrivateKey
}

// NewConfig composes a new client config from the given Apple
// credentials, resolving and parsing the private key eagerly so invalid
// credentials fail at construction.
//
// Supported options: WithPrivateKey, WithPrivateKeyFile, WithNow
func NewConfig(clientID, teamID, keyID string, opt ...Option) (*Config, error) {
	const op = "apple.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:       clientID,
		TeamID:         teamID,
		KeyID:          keyID,
		PrivateKey:     opts.withPrivateKey,
		PrivateKeyPath: opts.withPrivateKeyPath,
		NowFunc:        opts.withNowFunc,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	key, err := c.loadSigningKey()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.signingKey = key
	return c, nil
}

// Validate the config. All field problems are collected and returned
// together. The private key material itself is not parsed here; that
// happens once in NewConfig.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.TeamID == "" {
		result = multierror.Append(result, fmt.Errorf("team id is empty: %w", ErrInvalidParameter))
	}
	if c.KeyID == "" {
		result = multierror.Append(result, fmt.Errorf("key id is empty: %w", ErrInvalidParameter))
	}
	switch {
	case c.PrivateKey == "" && c.PrivateKeyPath == "":
		result = multierror.Append(result, fmt.Errorf("neither private key nor private key path provided: %w", ErrMissingPrivateKey))
	case c.PrivateKey != "" && c.PrivateKeyPath != "":
		result = multierror.Append(result, fmt.Errorf("private key and private key path are mutually exclusive: %w", ErrBothPrivateKeySources))
	}
	return result.ErrorOrNil()
}

// Now returns the current time using the configured NowFunc, or
// time.Now when none is set.
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

// loadSigningKey resolves the configured private key source and parses
// the PEM into an ES256 signing key.
func (c *Config) loadSigningKey() (*ecdsa.PrivateKey, error) {
	const op = "Config.loadSigningKey"
	pemBytes := []byte(c.PrivateKey)
	if c.PrivateKeyPath != "" {
		var err error
		pemBytes, err = os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read private key file %q: %w: %w", op, c.PrivateKeyPath, ErrInvalidPrivateKey, err)
		}
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found in private key: %w", op, ErrInvalidPrivateKey)
	}
	// Apple issues keys in PKCS#8 (.p8); SEC 1 is accepted for keys that
	// have been re-encoded.
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if ecKey, ecErr := x509.ParseECPrivateKey(block.Bytes); ecErr == nil {
			parsed = ecKey
		} else {
			return nil, fmt.Errorf("%s: unable to parse private key: %w: %w", op, ErrInvalidPrivateKey, err)
		}
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: private key is %T, not ECDSA: %w", op, parsed, ErrInvalidPrivateKey)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%s: private key curve %s is not P-256: %w", op, key.Curve.Params().Name, ErrInvalidPrivateKey)
	}
	return key, nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withPrivateKey     string
	withPrivateKeyPath string
	withNowFunc        func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrivateKey provides a PEM-encoded ES256 private key inline.
// Mutually exclusive with WithPrivateKeyFile.
func WithPrivateKey(pemKey string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPrivateKey = pemKey
		}
	}
}

// WithPrivateKeyFile provides a path to a PEM-encoded ES256 private key
// (Apple's .p8 download). Mutually exclusive with WithPrivateKey.
func WithPrivateKeyFile(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPrivateKeyPath = path
		}
	}
}

// WithNow provides an optional func for determining the current time,
// used when minting client secrets and validating token expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withNowFunc = now
		}
	}
}
