package auth

import (
	"context"
	"testing"
	"time"

	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/store"
)

// fakeStore is a minimal in-memory userSessionStore for tests that don't
// need a real SQLite file.
type fakeStore struct {
	users    map[string]store.UserRecord
	sessions map[string]store.SessionRecord
	expires  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]store.UserRecord),
		sessions: make(map[string]store.SessionRecord),
		expires:  make(map[string]time.Time),
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, username, passwordHash, passwordSalt string) error {
	f.users[username] = store.UserRecord{Username: username, PasswordHash: passwordHash, PasswordSalt: passwordSalt}
	return nil
}

func (f *fakeStore) User(ctx context.Context, username string) (store.UserRecord, error) {
	u, ok := f.users[username]
	if !ok {
		return store.UserRecord{}, domain.ErrAuthFailed
	}
	return u, nil
}

func (f *fakeStore) TouchUserLogin(ctx context.Context, username string) error { return nil }

func (f *fakeStore) CreateSession(ctx context.Context, token, username string, expiresAt time.Time) error {
	f.sessions[token] = store.SessionRecord{Token: token, Username: username}
	f.expires[token] = expiresAt
	return nil
}

func (f *fakeStore) Session(ctx context.Context, token string) (store.SessionRecord, error) {
	sess, ok := f.sessions[token]
	if !ok {
		return store.SessionRecord{}, domain.ErrSessionExpired
	}
	if time.Now().After(f.expires[token]) {
		return store.SessionRecord{}, domain.ErrSessionExpired
	}
	return sess, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, token string) error {
	delete(f.sessions, token)
	delete(f.expires, token)
	return nil
}

func (f *fakeStore) PruneExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	now := time.Now()
	for tok, exp := range f.expires {
		if now.After(exp) {
			delete(f.sessions, tok)
			delete(f.expires, tok)
			n++
		}
	}
	return n, nil
}

func TestCheckAPIKey(t *testing.T) {
	a := New("secret-key", nil)
	if err := a.CheckAPIKey("secret-key"); err != nil {
		t.Fatalf("expected valid key to pass, got %v", err)
	}
	if err := a.CheckAPIKey("wrong-key"); err != domain.ErrAPIKeyInvalid {
		t.Fatalf("expected ErrAPIKeyInvalid, got %v", err)
	}
	if err := a.CheckAPIKey(""); err != domain.ErrAPIKeyMissing {
		t.Fatalf("expected ErrAPIKeyMissing, got %v", err)
	}
}

func TestCreateUserAndLogin(t *testing.T) {
	fs := newFakeStore()
	a := New("secret-key", fs)
	ctx := context.Background()

	if err := a.CreateUser(ctx, "alice", "Str0ngPass!word"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := a.Login(ctx, "10.0.0.1", "alice", "Str0ngPass!word", time.Hour)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty session token")
	}

	username, err := a.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if username != "alice" {
		t.Fatalf("expected alice, got %q", username)
	}

	if err := a.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := a.ValidateSession(ctx, token); err != domain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired after logout, got %v", err)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	fs := newFakeStore()
	a := New("secret-key", fs)
	ctx := context.Background()

	if err := a.CreateUser(ctx, "alice", "Str0ngPass!word"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := a.Login(ctx, "10.0.0.1", "alice", "wrong", time.Hour); err != domain.ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestLoginThrottlesAfterRepeatedFailures(t *testing.T) {
	fs := newFakeStore()
	a := New("secret-key", fs)
	ctx := context.Background()

	if err := a.CreateUser(ctx, "alice", "Str0ngPass!word"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	for i := 0; i < loginMaxFailures; i++ {
		if _, err := a.Login(ctx, "10.0.0.2", "alice", "wrong", time.Hour); err != domain.ErrAuthFailed {
			t.Fatalf("attempt %d: expected ErrAuthFailed, got %v", i, err)
		}
	}

	if !a.Throttled("10.0.0.2") {
		t.Fatalf("expected client to be throttled after %d failures", loginMaxFailures)
	}

	if _, err := a.Login(ctx, "10.0.0.2", "alice", "Str0ngPass!word", time.Hour); err != domain.ErrLoginThrottled {
		t.Fatalf("expected ErrLoginThrottled even with correct password, got %v", err)
	}

	// A different IP is unaffected.
	if a.Throttled("10.0.0.3") {
		t.Fatalf("unrelated IP should not be throttled")
	}
}

func TestCreateUserRejectsWeakPassword(t *testing.T) {
	fs := newFakeStore()
	a := New("secret-key", fs)
	ctx := context.Background()

	cases := []string{
		"short1!",           // too short
		"alllowercase123!",  // no upper
		"ALLUPPERCASE123!",  // no lower
		"NoDigitsHereAtAll!", // no digit
		"NoSymbolHere1234",  // no symbol
	}
	for _, pw := range cases {
		if err := a.CreateUser(ctx, "bob", pw); err == nil {
			t.Fatalf("expected weak password %q to be rejected", pw)
		}
	}
}

func TestValidateSessionEmptyToken(t *testing.T) {
	a := New("secret-key", newFakeStore())
	if _, err := a.ValidateSession(context.Background(), ""); err != domain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired for empty token, got %v", err)
	}
}

func TestPruneExpiredSessionsDelegates(t *testing.T) {
	fs := newFakeStore()
	a := New("secret-key", fs)
	ctx := context.Background()

	fs.CreateSession(ctx, "expired", "alice", time.Now().Add(-time.Hour))
	fs.CreateSession(ctx, "active", "alice", time.Now().Add(time.Hour))

	n, err := a.PruneExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PruneExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned session, got %d", n)
	}
}
