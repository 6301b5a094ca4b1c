package auth

import "errors"

// Common authentication service errors
var (
	// ErrInvalidToken indicates the token format is invalid or signature doesn't match
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrTokenNotYetValid indicates the token is not yet valid (nbf claim in the future)
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")

	// ErrMissingToken indicates a token was expected but not provided
	ErrMissingToken = errors.New("authentication token is missing")

	// ErrUnknownKey indicates the token references a signing key the
	// issuer does not publish
	ErrUnknownKey = errors.New("token signed with unknown key")

	// ErrKeyFetchFailed indicates the issuer's key set could not be retrieved
	ErrKeyFetchFailed = errors.New("failed to fetch issuer key set")
)
