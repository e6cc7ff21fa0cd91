package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a service.
	ErrNotFound = errors.New("token record not found")

	// ErrCorrupt is returned when a persisted record cannot be decrypted or decoded.
	ErrCorrupt = errors.New("token record is corrupt")
)

// Record is the persisted token state for one service.
//
// TokenEndpoint and ClientID are captured at exchange time so the record can
// be refreshed later without re-running discovery.
type Record struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	TokenEndpoint string    `json:"token_endpoint,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	IssuedAt      time.Time `json:"issued_at,omitempty"`
	RefreshedAt   time.Time `json:"refreshed_at,omitempty"`
}

// IsExpired reports whether the access token has expired at now.
// A record without an expiry never expires.
func (r *Record) IsExpired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (r *Record) ExpiresWithin(now time.Time, d time.Duration) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(r.ExpiresAt)
}

// CanRefresh reports whether the record carries everything a refresh needs.
func (r *Record) CanRefresh() bool {
	return r.RefreshToken != "" && r.TokenEndpoint != "" && r.ClientID != ""
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Store persists one Record per service name. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the record for service, or ErrNotFound.
	Get(ctx context.Context, service string) (*Record, error)
	// Set creates or replaces the record for service.
	Set(ctx context.Context, service string, rec *Record) error
	// Delete removes the record for service. Deleting a missing record is not an error.
	Delete(ctx context.Context, service string) error
	// ListServiceNames returns the services that have a record, sorted.
	ListServiceNames(ctx context.Context) ([]string, error)
}
