package oauth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	pkgoauth "mcpgate/pkg/oauth"
	"mcpgate/pkg/logging"
)

// DefaultSessionTTL bounds how long an authorization attempt stays redeemable.
const DefaultSessionTTL = 10 * time.Minute

// AuthSession is one in-flight authorization attempt, keyed by its state.
type AuthSession struct {
	Service      string
	Client       *oauth2.Config
	CodeVerifier RedactedToken
	CreatedAt    time.Time
}

// SessionRegistry provides thread-safe storage for in-flight authorization
// sessions. Sessions are single use and expire after the TTL whether or not
// they were consumed.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*AuthSession

	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// SessionOption configures a SessionRegistry.
type SessionOption func(*SessionRegistry)

// WithSessionTTL overrides the default 10 minute TTL.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(r *SessionRegistry) { r.ttl = ttl }
}

// WithSessionClock injects the clock, for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(r *SessionRegistry) { r.now = now }
}

// NewSessionRegistry creates a registry and starts its cleanup loop.
func NewSessionRegistry(opts ...SessionOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions:    make(map[string]*AuthSession),
		ttl:         DefaultSessionTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.cleanupLoop()

	return r
}

// Create stores a new session and returns its random state value.
func (r *SessionRegistry) Create(service string, client *oauth2.Config, verifier string) (string, error) {
	state, err := pkgoauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	r.mu.Lock()
	r.sessions[state] = &AuthSession{
		Service:      service,
		Client:       client,
		CodeVerifier: NewRedactedToken(verifier),
		CreatedAt:    r.now(),
	}
	r.mu.Unlock()

	logging.Debug("Broker", "Created authorization session state=%s service=%s", logging.TruncateID(state), service)
	return state, nil
}

// Consume returns the session for state and deletes it. It reports false for
// unknown states and for sessions older than the TTL.
func (r *SessionRegistry) Consume(state string) (*AuthSession, bool) {
	r.mu.Lock()
	session, ok := r.sessions[state]
	delete(r.sessions, state)
	r.mu.Unlock()

	if !ok {
		logging.Warn("Broker", "Authorization session not found: state=%s", logging.TruncateID(state))
		return nil, false
	}

	if age := r.now().Sub(session.CreatedAt); age > r.ttl {
		logging.Warn("Broker", "Authorization session expired: state=%s age=%v", logging.TruncateID(state), age)
		return nil, false
	}

	return session, true
}

// Len returns the number of live sessions, including expired ones not yet collected.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stop stops the background cleanup goroutine. It is safe to call more than once.
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCleanup) })
}

func (r *SessionRegistry) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired sessions.
func (r *SessionRegistry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	now := r.now()
	for state, session := range r.sessions {
		if now.Sub(session.CreatedAt) > r.ttl {
			delete(r.sessions, state)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Broker", "Cleaned up %d expired authorization sessions", count)
	}
}
