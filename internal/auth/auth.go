// Package auth implements the fleet server's two authentication planes:
// a constant-time shared API key for agents, and cookie sessions with
// bcrypt-hashed passwords and per-IP login throttling for human operators.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetmetrics"
	"github.com/atlasfleet/atlas/internal/store"
)

// SessionTokenBytes is the entropy of an issued session token, spec §4.5
// "256-bit random session token."
const SessionTokenBytes = 32

// BcryptCost is the tunable work factor for password hashing.
const BcryptCost = bcrypt.DefaultCost

// loginWindow and loginMaxFailures implement the per-IP throttle: after
// loginMaxFailures failed attempts within loginWindow, further attempts
// from that IP are rejected until the window clears.
const (
	loginWindow      = 15 * time.Minute
	loginMaxFailures = 5
)

// userSessionStore is the subset of store.Store the auth package depends
// on, kept as an interface so tests can fake it without a real SQLite
// file.
type userSessionStore interface {
	CreateUser(ctx context.Context, username, passwordHash, passwordSalt string) error
	User(ctx context.Context, username string) (store.UserRecord, error)
	TouchUserLogin(ctx context.Context, username string) error
	CreateSession(ctx context.Context, token, username string, expiresAt time.Time) error
	Session(ctx context.Context, token string) (store.SessionRecord, error)
	DeleteSession(ctx context.Context, token string) error
	PruneExpiredSessions(ctx context.Context) (int64, error)
}

// Authenticator validates API keys and manages human sessions.
type Authenticator struct {
	apiKey string
	store  userSessionStore

	mu       sync.Mutex
	failures map[string][]time.Time // IP -> recent failure timestamps
}

// New builds an Authenticator. store may be nil if only API-key checking
// is needed (e.g. in a minimal test harness).
func New(apiKey string, store userSessionStore) *Authenticator {
	return &Authenticator{
		apiKey:   apiKey,
		store:    store,
		failures: make(map[string][]time.Time),
	}
}

// CheckAPIKey validates the X-API-Key header value in constant time.
func (a *Authenticator) CheckAPIKey(provided string) error {
	if provided == "" {
		return domain.ErrAPIKeyMissing
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.apiKey)) != 1 {
		return domain.ErrAPIKeyInvalid
	}
	return nil
}

// Throttled reports whether clientIP has exceeded the login failure
// threshold within the current window.
func (a *Authenticator) Throttled(clientIP string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneFailuresLocked(clientIP)
	return len(a.failures[clientIP]) >= loginMaxFailures
}

func (a *Authenticator) recordFailure(clientIP string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneFailuresLocked(clientIP)
	a.failures[clientIP] = append(a.failures[clientIP], time.Now())
}

func (a *Authenticator) pruneFailuresLocked(clientIP string) {
	cutoff := time.Now().Add(-loginWindow)
	kept := a.failures[clientIP][:0]
	for _, t := range a.failures[clientIP] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(a.failures, clientIP)
	} else {
		a.failures[clientIP] = kept
	}
}

// Login validates a username/password against stored bcrypt hashes, honors
// the per-IP throttle, and on success issues a session token.
func (a *Authenticator) Login(ctx context.Context, clientIP, username, password string, ttl time.Duration) (string, error) {
	if a.Throttled(clientIP) {
		fleetmetrics.LoginAttempts.WithLabelValues("throttled").Inc()
		return "", domain.ErrLoginThrottled
	}

	user, err := a.store.User(ctx, username)
	if err != nil {
		a.recordFailure(clientIP)
		fleetmetrics.LoginAttempts.WithLabelValues("bad_credentials").Inc()
		return "", domain.ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password+user.PasswordSalt)); err != nil {
		a.recordFailure(clientIP)
		fleetmetrics.LoginAttempts.WithLabelValues("bad_credentials").Inc()
		return "", domain.ErrAuthFailed
	}

	token, err := newSessionToken()
	if err != nil {
		return "", fmt.Errorf("auth: generate session token: %w", err)
	}
	expiresAt := time.Now().Add(ttl)
	if err := a.store.CreateSession(ctx, token, username, expiresAt); err != nil {
		return "", fmt.Errorf("auth: create session: %w", err)
	}
	a.store.TouchUserLogin(ctx, username)

	fleetmetrics.LoginAttempts.WithLabelValues("ok").Inc()
	return token, nil
}

// Logout deletes a session row.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.store.DeleteSession(ctx, token)
}

// ValidateSession returns the username for a live session token, or
// ErrSessionExpired if the token is missing or past its expiry.
func (a *Authenticator) ValidateSession(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", domain.ErrSessionExpired
	}
	sess, err := a.store.Session(ctx, token)
	if err != nil {
		return "", err
	}
	return sess.Username, nil
}

// CreateUser hashes password with bcrypt and a per-user random salt, then
// stores the user — enforcing the password policy first.
func (a *Authenticator) CreateUser(ctx context.Context, username, password string) error {
	if err := validatePasswordPolicy(password); err != nil {
		return err
	}
	salt, err := randomSalt()
	if err != nil {
		return fmt.Errorf("auth: generate salt: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password+salt), BcryptCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	return a.store.CreateUser(ctx, username, string(hash), salt)
}

// PruneExpiredSessions deletes expired session rows; intended to run every
// 10 minutes per spec §5.
func (a *Authenticator) PruneExpiredSessions(ctx context.Context) (int64, error) {
	return a.store.PruneExpiredSessions(ctx)
}

func newSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var passwordSymbol = regexp.MustCompile(`[!-/:-@\[-` + "`" + `{-~]`)

// validatePasswordPolicy enforces spec §4.5: at least 12 characters, mixed
// case, a digit, and a symbol.
func validatePasswordPolicy(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: must be at least 12 characters", domain.ErrPasswordTooWeak)
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("%w: must mix upper case, lower case, and a digit", domain.ErrPasswordTooWeak)
	}
	if !passwordSymbol.MatchString(password) {
		return fmt.Errorf("%w: must include a symbol", domain.ErrPasswordTooWeak)
	}
	return nil
}
