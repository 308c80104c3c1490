// Package keyset resolves JWT signing keys by key ID (kid).
//
// The RemoteJWKS resolver is backed by a cached JSON Web Key Set fetched
// from a remote endpoint; caching, refresh and key-rotation handling are
// provided by the underlying jwk.Cache. The Static resolver serves a
// fixed set of keys, which is useful for tests.
package keyset

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrKeyNotFound is returned when the key set does not contain the
// requested kid. It's distinct from fetch failures so callers can tell a
// rotated-away key from an unreachable endpoint.
var ErrKeyNotFound = errors.New("signing key not found")

// Resolver resolves the public signing key for a JWT kid header value.
type Resolver interface {
	// ResolveKey returns the public key for the given kid, or an error
	// wrapping ErrKeyNotFound when the key set has no such key.
	ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// RemoteJWKS resolves keys from a remote JSON Web Key Set endpoint. The
// set is fetched lazily and cached; refreshes honor the endpoint's cache
// headers.
type RemoteJWKS struct {
	jwksURL string
	cache   *jwk.Cache
}

// NewRemoteJWKS creates a RemoteJWKS for the given endpoint URL. The
// provided ctx controls the lifetime of the cache's background refresh
// machinery.
//
// Supported options: WithHTTPClient, WithMinRefreshInterval
func NewRemoteJWKS(ctx context.Context, jwksURL string, opt ...Option) (*RemoteJWKS, error) {
	const op = "keyset.NewRemoteJWKS"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty", op)
	}
	opts := getOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	cache := jwk.NewCache(ctx)
	registerOpts := []jwk.RegisterOption{jwk.WithHTTPClient(client)}
	if opts.withMinRefreshInterval > 0 {
		registerOpts = append(registerOpts, jwk.WithMinRefreshInterval(opts.withMinRefreshInterval))
	}
	if err := cache.Register(jwksURL, registerOpts...); err != nil {
		return nil, fmt.Errorf("%s: unable to register jwks URL: %w", op, err)
	}
	return &RemoteJWKS{
		jwksURL: jwksURL,
		cache:   cache,
	}, nil
}

// ResolveKey fetches the cached key set and returns the public key for
// kid.
func (r *RemoteJWKS) ResolveKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	const op = "RemoteJWKS.ResolveKey"
	set, err := r.cache.Get(ctx, r.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch key set: %w", op, err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
	}
	var pub crypto.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("%s: unable to materialize key %q: %w", op, kid, err)
	}
	return pub, nil
}

// Static resolves keys from a fixed kid to public key mapping.
type Static struct {
	keys map[string]crypto.PublicKey
}

// NewStatic creates a Static resolver from the given keys. The map is
// copied.
func NewStatic(keys map[string]crypto.PublicKey) (*Static, error) {
	const op = "keyset.NewStatic"
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: no keys provided", op)
	}
	cp := make(map[string]crypto.PublicKey, len(keys))
	for k, v := range keys {
		if v == nil {
			return nil, fmt.Errorf("%s: key %q is nil", op, k)
		}
		cp[k] = v
	}
	return &Static{keys: cp}, nil
}

// ResolveKey returns the public key for kid from the static set.
func (s *Static) ResolveKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	const op = "Static.ResolveKey"
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
	}
	return key, nil
}

var (
	_ Resolver = (*RemoteJWKS)(nil)
	_ Resolver = (*Static)(nil)
)
