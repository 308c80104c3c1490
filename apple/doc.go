// apple is a package that implements the "Sign in with Apple" flow for a
// registered Apple Service ID: building authorization URLs, minting the
// client-secret JWT Apple requires in place of a static secret,
// exchanging and refreshing tokens, and verifying identity tokens
// against Apple's published signing keys.
package apple
