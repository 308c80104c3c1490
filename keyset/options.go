package keyset

import (
	"net/http"
	"time"
)

// Option defines a common functional options type
type Option func(interface{})

// options is the set of available options for this package
type options struct {
	withHTTPClient         *http.Client
	withMinRefreshInterval time.Duration
}

// getDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func getDefaults() options {
	return options{}
}

// getOpts gets the defaults and applies the opt overrides passed in.
func getOpts(opt ...Option) options {
	opts := getDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithHTTPClient provides an optional HTTP client used to fetch the
// remote key set. A pooled cleanhttp client is used by default.
func WithHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = client
		}
	}
}

// WithMinRefreshInterval provides an optional lower bound on how often
// the remote key set may be refreshed, overriding the endpoint's cache
// headers.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withMinRefreshInterval = d
		}
	}
}
