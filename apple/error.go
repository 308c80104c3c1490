package apple

import (
	"errors"
	"fmt"
)

var (
	ErrNilParameter          = errors.New("nil parameter")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrMissingPrivateKey     = errors.New("missing private key")
	ErrBothPrivateKeySources = errors.New("both private key and private key path provided")
	ErrInvalidPrivateKey     = errors.New("invalid private key")
	ErrIDGeneratorFailed     = errors.New("id generation failed")
	ErrSigningFailed         = errors.New("client secret signing failed")
	ErrMalformedToken        = errors.New("malformed id_token")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrExpiredToken          = errors.New("id_token is expired")
	ErrInvalidIssuer         = errors.New("invalid issuer")
	ErrInvalidAudience       = errors.New("invalid audience")
	ErrInvalidSubject        = errors.New("invalid subject")
	ErrInvalidNonce          = errors.New("invalid nonce")
)

// APIError represents a non-success response from Apple's token
// endpoint, carrying the error payload Apple returned. Callers can get
// at it with errors.As.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is Apple's "error" value, e.g. "invalid_grant".
	Code string

	// Description is Apple's optional "error_description" value.
	Description string
}

// Error satisfies the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("apple token endpoint returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("apple token endpoint returned %d: %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("apple token endpoint returned %d", e.StatusCode)
	}
}
