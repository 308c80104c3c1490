package apple

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a client from a freshly generated test key.
func testClient(t *testing.T, opt ...Option) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	require := require.New(t)
	privPEM, key := TestGenerateKeys(t)
	cfg, err := NewConfig("com.example.service", "TEST_TEAM_ID", "TEST_KEY_ID", WithPrivateKey(privPEM))
	require.NoError(err)
	c, err := NewClient(cfg, opt...)
	require.NoError(err)
	t.Cleanup(c.Done)
	return c, key
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewClient(nil)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewClient(&Config{ClientID: "com.example.service"})
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("loads-key-for-caller-built-config", func(t *testing.T) {
		require := require.New(t)
		privPEM, _ := TestGenerateKeys(t)
		c, err := NewClient(&Config{
			ClientID:   "com.example.service",
			TeamID:     "TEST_TEAM_ID",
			KeyID:      "TEST_KEY_ID",
			PrivateKey: privPEM,
		})
		require.NoError(err)
		defer c.Done()
		require.NotNil(c.config.signingKey)
	})
}

func TestClient_AuthURL(t *testing.T) {
	t.Parallel()
	const testRedirectURL = "https://example.com/callback"

	type args struct {
		redirectURL string
		opt         []Option
	}
	tests := []struct {
		name       string
		args       args
		wantQuery  map[string]string
		wantAbsent []string
		wantErr    bool
		wantIsErr  error
	}{
		{
			name: "minimal",
			args: args{redirectURL: testRedirectURL},
			wantQuery: map[string]string{
				"client_id":     "com.example.service",
				"redirect_uri":  testRedirectURL,
				"response_type": "code id_token",
			},
			wantAbsent: []string{"scope", "state", "nonce", "response_mode"},
		},
		{
			name: "scopes-force-form-post",
			args: args{
				redirectURL: testRedirectURL,
				opt:         []Option{WithScopes(ScopeName, ScopeEmail)},
			},
			wantQuery: map[string]string{
				"client_id":     "com.example.service",
				"redirect_uri":  testRedirectURL,
				"response_type": "code id_token",
				"scope":         "name email",
				"response_mode": "form_post",
			},
		},
		{
			name: "single-scope",
			args: args{
				redirectURL: testRedirectURL,
				opt:         []Option{WithScopes(ScopeEmail)},
			},
			wantQuery: map[string]string{
				"scope":         "email",
				"response_mode": "form_post",
			},
		},
		{
			name: "state-and-nonce",
			args: args{
				redirectURL: testRedirectURL,
				opt: []Option{
					WithState("test-state"),
					WithNonce("test-nonce"),
				},
			},
			wantQuery: map[string]string{
				"state": "test-state",
				"nonce": "test-nonce",
			},
			wantAbsent: []string{"response_mode"},
		},
		{
			name:      "empty-redirect-url",
			args:      args{redirectURL: ""},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, _ := testClient(t)
			got, err := c.AuthURL(tt.args.redirectURL, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" and got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)

			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal("https", u.Scheme)
			assert.Equal("appleid.apple.com", u.Host)
			assert.Equal("/auth/authorize", u.Path)
			q := u.Query()
			for k, want := range tt.wantQuery {
				assert.Equalf(want, q.Get(k), "query param %q", k)
			}
			for _, k := range tt.wantAbsent {
				assert.Falsef(q.Has(k), "query param %q should be absent", k)
			}
		})
	}
}

func TestClient_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(http.MethodPost, r.Method)
			require.Equal("/auth/token", r.URL.Path)
			require.NoError(r.ParseForm())
			require.Equal("authorization_code", r.PostForm.Get("grant_type"))
			require.Equal("com.example.service", r.PostForm.Get("client_id"))
			require.Equal("test-secret", r.PostForm.Get("client_secret"))
			require.Equal("test-code", r.PostForm.Get("code"))
			require.Equal("https://example.com/callback", r.PostForm.Get("redirect_uri"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "test-access-token",
				"expires_in":    3600,
				"id_token":      "test-id-token",
				"refresh_token": "test-refresh-token",
				"token_type":    "bearer",
			})
		}))
		defer ts.Close()

		c, _ := testClient(t, WithProviderURL(ts.URL))
		got, err := c.Exchange(ctx, "test-secret", "test-code", WithRedirectURL("https://example.com/callback"))
		require.NoError(err)
		assert.Equal(AccessToken("test-access-token"), got.AccessToken)
		assert.Equal(3600, got.ExpiresIn)
		assert.Equal(IdToken("test-id-token"), got.IdToken)
		assert.Equal(RefreshToken("test-refresh-token"), got.RefreshToken)
		assert.Equal("bearer", got.TokenType)
	})

	t.Run("apple-error-payload", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "The code has expired or has been revoked.",
			})
		}))
		defer ts.Close()

		c, _ := testClient(t, WithProviderURL(ts.URL))
		_, err := c.Exchange(ctx, "test-secret", "test-code")
		require.Error(err)
		var apiErr *APIError
		require.Truef(errors.As(err, &apiErr), "wanted *APIError and got \"%s\"", err)
		assert.Equal(http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal("invalid_grant", apiErr.Code)
		assert.Equal("The code has expired or has been revoked.", apiErr.Description)
	})

	t.Run("transport-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		ts.Close() // connection refused from here on

		c, _ := testClient(t, WithProviderURL(ts.URL))
		_, err := c.Exchange(ctx, "test-secret", "test-code")
		require.Error(err)
		var apiErr *APIError
		assert.Falsef(errors.As(err, &apiErr), "transport failures must not be an *APIError: %s", err)
	})

	t.Run("empty-inputs", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := testClient(t)
		_, err := c.Exchange(ctx, "", "test-code")
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = c.Exchange(ctx, "test-secret", "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestClient_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(r.ParseForm())
			require.Equal("refresh_token", r.PostForm.Get("grant_type"))
			require.Equal("com.example.service", r.PostForm.Get("client_id"))
			require.Equal("test-secret", r.PostForm.Get("client_secret"))
			require.Equal("test-refresh-token", r.PostForm.Get("refresh_token"))
			require.Empty(r.PostForm.Get("redirect_uri"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "test-access-token",
				"expires_in":   3600,
				"token_type":   "bearer",
			})
		}))
		defer ts.Close()

		c, _ := testClient(t, WithProviderURL(ts.URL))
		got, err := c.Refresh(ctx, "test-secret", "test-refresh-token")
		require.NoError(err)
		assert.Equal(AccessToken("test-access-token"), got.AccessToken)
		assert.Equal(3600, got.ExpiresIn)
		assert.Equal("bearer", got.TokenType)
	})

	t.Run("apple-error-payload", func(t *testing.T) {
		require := require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
		}))
		defer ts.Close()

		c, _ := testClient(t, WithProviderURL(ts.URL))
		_, err := c.Refresh(ctx, "test-secret", "test-refresh-token")
		require.Error(err)
		var apiErr *APIError
		require.True(errors.As(err, &apiErr))
		require.Equal("invalid_client", apiErr.Code)
	})

	t.Run("empty-inputs", func(t *testing.T) {
		assert := assert.New(t)
		c, _ := testClient(t)
		_, err := c.Refresh(ctx, "", "test-refresh-token")
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = c.Refresh(ctx, "test-secret", "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}
