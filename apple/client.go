package apple

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/nora-soderlund/cloudflare-apple-sign-in/keyset"
	"golang.org/x/oauth2"
)

const (
	// DefaultProviderURL is Apple's issuer, which also serves as the base
	// URL of the authorization, token and key set endpoints.
	DefaultProviderURL = "https://appleid.apple.com"

	authorizePath = "/auth/authorize"
	tokenPath     = "/auth/token"
	keysPath      = "/auth/keys"

	// ScopeName and ScopeEmail are the scopes Apple supports.
	ScopeName  = "name"
	ScopeEmail = "email"
)

// AccessTokenResponse is Apple's token endpoint response to an
// authorization code exchange.
type AccessTokenResponse struct {
	AccessToken  AccessToken  `json:"access_token"`
	ExpiresIn    int          `json:"expires_in"`
	IdToken      IdToken      `json:"id_token"`
	RefreshToken RefreshToken `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
}

// RefreshTokenResponse is Apple's token endpoint response to a refresh
// grant. Apple does not issue a new id_token or refresh_token here.
type RefreshTokenResponse struct {
	AccessToken AccessToken `json:"access_token"`
	ExpiresIn   int         `json:"expires_in"`
	TokenType   string      `json:"token_type"`
}

// Client provides integration with Sign in with Apple for a single
// Service ID. All methods are safe for concurrent use; the only shared
// state is the immutable Config and the key resolver's own cache.
type Client struct {
	config      *Config
	client      *http.Client
	resolver    keyset.Resolver
	logger      hclog.Logger
	providerURL string

	mu sync.Mutex

	// backgroundCtx is the context used by the client for background
	// activities like refreshing the JWKS key set.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities
	// running in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewClient creates and initializes a Client. No network request is
// made; Apple's key set is fetched lazily on first verification.
//
// See Client.Done() which must be called to release client resources.
//
// Supported options: WithHTTPClient, WithKeyResolver, WithLogger,
// WithProviderURL
func NewClient(c *Config, opt ...Option) (*Client, error) {
	const op = "apple.NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: client config is invalid: %w", op, err)
	}
	if c.signingKey == nil {
		key, err := c.loadSigningKey()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.signingKey = key
	}
	opts := getClientOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		config:              c,
		providerURL:         strings.TrimSuffix(opts.withProviderURL, "/"),
		logger:              opts.withLogger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}
	if client.logger == nil {
		client.logger = hclog.NewNullLogger()
	}
	client.client = opts.withHTTPClient
	if client.client == nil {
		client.client = cleanhttp.DefaultPooledClient()
	}
	client.resolver = opts.withKeyResolver
	if client.resolver == nil {
		resolver, err := keyset.NewRemoteJWKS(client.backgroundCtx, client.providerURL+keysPath, keyset.WithHTTPClient(client.client))
		if err != nil {
			client.Done() // release the backgroundCtxCancel resources
			return nil, fmt.Errorf("%s: unable to create key resolver: %w", op, err)
		}
		client.resolver = resolver
	}
	return client, nil
}

// Done with the client's background resources and must be called for
// every Client created
func (c *Client) Done() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backgroundCtxCancel != nil {
		c.backgroundCtxCancel()
		c.backgroundCtxCancel = nil
	}
}

// AuthURL generates the URL a user should be redirected to in order to
// kick off the Sign in with Apple flow. The redirectURL must be an
// absolute URL registered with Apple for the Service ID.
//
// The response_type requests both a code and an id_token. Whenever
// scopes are requested Apple requires the response to be delivered via
// form_post, and the URL is built accordingly.
//
// No network request is made and no syntactic validation is applied to
// redirectURL beyond requiring it to be non-empty.
//
// Supported options: WithScopes, WithState, WithNonce
func (c *Client) AuthURL(redirectURL string, opt ...Option) (string, error) {
	const op = "Client.AuthURL"
	if redirectURL == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAuthURLOpts(opt...)

	oauth2Config := oauth2.Config{
		ClientID:    c.config.ClientID,
		RedirectURL: redirectURL,
		Scopes:      opts.withScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.providerURL + authorizePath,
			TokenURL: c.providerURL + tokenPath,
		},
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", "code id_token"),
	}
	if len(opts.withScopes) > 0 {
		// Apple requires form_post whenever user information is requested
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_mode", "form_post"))
	}
	if opts.withNonce != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("nonce", opts.withNonce))
	}
	return oauth2Config.AuthCodeURL(opts.withState, authCodeOpts...), nil
}

// Exchange will exchange an authorization code received on the redirect
// from Apple for tokens. The clientSecret is a JWT minted with
// CreateClientSecret. If the authorization request carried a
// redirect_uri, the same value must be provided via WithRedirectURL.
//
// A single attempt is made; failures are not retried. A non-success
// response from Apple is returned as an *APIError.
//
// Supported options: WithRedirectURL
func (c *Client) Exchange(ctx context.Context, clientSecret ClientSecret, authorizationCode string, opt ...Option) (*AccessTokenResponse, error) {
	const op = "Client.Exchange"
	if clientSecret == "" {
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", string(clientSecret))
	form.Set("code", authorizationCode)
	if opts.withRedirectURL != "" {
		form.Set("redirect_uri", opts.withRedirectURL)
	}

	c.logger.Debug("exchanging authorization code", "endpoint", c.providerURL+tokenPath)
	var tokens AccessTokenResponse
	if err := c.postTokenForm(ctx, form, &tokens); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &tokens, nil
}

// Refresh will exchange a refresh token received from an earlier code
// exchange for a new access token. A single attempt is made; failures
// are not retried. A non-success response from Apple is returned as an
// *APIError.
func (c *Client) Refresh(ctx context.Context, clientSecret ClientSecret, refreshToken RefreshToken) (*RefreshTokenResponse, error) {
	const op = "Client.Refresh"
	if clientSecret == "" {
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", string(clientSecret))
	form.Set("refresh_token", string(refreshToken))

	c.logger.Debug("refreshing tokens", "endpoint", c.providerURL+tokenPath)
	var tokens RefreshTokenResponse
	if err := c.postTokenForm(ctx, form, &tokens); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &tokens, nil
}

// postTokenForm issues a single form-encoded POST to the token endpoint
// and decodes the JSON response into response. Non-2xx responses are
// returned as an *APIError carrying Apple's error payload.
func (c *Client) postTokenForm(ctx context.Context, form url.Values, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("unable to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("unable to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Description = payload.ErrorDescription
		}
		c.logger.Debug("token endpoint returned an error", "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("unable to decode token response: %w", err)
	}
	return nil
}

// clientOptions is the set of available options for NewClient
type clientOptions struct {
	withHTTPClient  *http.Client
	withKeyResolver keyset.Resolver
	withLogger      hclog.Logger
	withProviderURL string
}

// clientDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withProviderURL: DefaultProviderURL,
	}
}

// getClientOpts gets the defaults and applies the opt overrides passed
// in.
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional HTTP client used for token
// endpoint requests and, unless WithKeyResolver is given, key set
// fetches. A pooled cleanhttp client is used by default.
func WithHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withHTTPClient = client
		}
	}
}

// WithKeyResolver provides an optional resolver for Apple's signing
// keys, replacing the default remote JWKS resolver. Useful for tests
// that need deterministic keys.
func WithKeyResolver(r keyset.Resolver) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withKeyResolver = r
		}
	}
}

// WithLogger provides an optional logger for the client
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLogger = l
		}
	}
}

// WithProviderURL provides an optional base URL for Apple's endpoints
// and expected token issuer, overriding DefaultProviderURL. Primarily
// useful when pointing the client at a local test provider.
func WithProviderURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withProviderURL = u
		}
	}
}

// authURLOptions is the set of available options for Client.AuthURL
type authURLOptions struct {
	withScopes []string
	withState  string
	withNonce  string
}

// authURLDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

// getAuthURLOpts gets the defaults and applies the opt overrides passed
// in.
func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes (ScopeName,
// ScopeEmail) to request. Requesting any scope forces
// response_mode=form_post per Apple's requirements.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithState provides an optional opaque state value echoed back on the
// redirect from Apple. See NewID for generating suitable values.
func WithState(state string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withState = state
		}
	}
}

// exchangeOptions is the set of available options for Client.Exchange
type exchangeOptions struct {
	withRedirectURL string
}

// exchangeDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func exchangeDefaults() exchangeOptions {
	return exchangeOptions{}
}

// getExchangeOpts gets the defaults and applies the opt overrides
// passed in.
func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirectURL provides the redirect URL that was used to obtain the
// authorization code being exchanged.
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangeOptions); ok {
			o.withRedirectURL = u
		}
	}
}
