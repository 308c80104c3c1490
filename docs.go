// applesignin provides a client library for the "Sign in with Apple"
// OAuth2/OIDC flow: building authorization URLs, minting client-secret
// JWTs, exchanging and refreshing tokens, and verifying Apple identity
// tokens against Apple's published signing keys.
//
// See the apple and keyset packages, and README.md
package applesignin
