package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAuthorized is returned when authorization is requested for a
	// service that authenticates with a static token.
	ErrAlreadyAuthorized = errors.New("service is already authorized with a static token")

	// ErrInvalidSession covers unknown, expired and replayed state values.
	ErrInvalidSession = errors.New("invalid or expired authorization session")

	// ErrDiscoveryFailed is returned when no authorization server metadata could be found.
	ErrDiscoveryFailed = errors.New("oauth discovery failed")

	// ErrRegistrationFailed is returned when dynamic client registration is impossible or rejected.
	ErrRegistrationFailed = errors.New("dynamic client registration failed")

	// ErrTokenExchangeFailed is returned when the authorization code could not be exchanged.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrRefreshUnavailable is returned when a record lacks what a refresh needs.
	// It is permanent: the user has to authorize again.
	ErrRefreshUnavailable = errors.New("token refresh unavailable")

	// ErrRefreshFailed is returned when the provider rejected a refresh or the
	// refresh request failed. The stored record has been purged.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// OAuthError is an error reported by the provider on the callback redirect.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth provider error: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth provider error: %s", e.Code)
}
