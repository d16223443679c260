package mfakit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// memStore is an in-memory CredentialStore for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]map[string]CredentialRecord
	active  map[string]string

	failAll bool
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]map[string]CredentialRecord{},
		active:  map[string]string{},
	}
}

func (s *memStore) FindCredentials(_ context.Context, userID string) ([]CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, fmt.Errorf("store offline")
	}
	out := make([]CredentialRecord, 0, len(s.records[userID]))
	for _, rec := range s.records[userID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateCredential(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("store offline")
	}
	if s.records[rec.UserID] == nil {
		s.records[rec.UserID] = map[string]CredentialRecord{}
	}
	if _, exists := s.records[rec.UserID][rec.ID]; exists {
		return fmt.Errorf("duplicate credential %s", rec.ID)
	}
	s.records[rec.UserID][rec.ID] = rec
	return nil
}

func (s *memStore) UpdateCredential(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("store offline")
	}
	if _, exists := s.records[rec.UserID][rec.ID]; !exists {
		return fmt.Errorf("unknown credential %s", rec.ID)
	}
	s.records[rec.UserID][rec.ID] = rec
	return nil
}

func (s *memStore) RemoveCredential(_ context.Context, userID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("store offline")
	}
	if _, exists := s.records[userID][credentialID]; !exists {
		return fmt.Errorf("unknown credential %s", credentialID)
	}
	delete(s.records[userID], credentialID)
	return nil
}

func (s *memStore) ActiveModule(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", fmt.Errorf("store offline")
	}
	return s.active[userID], nil
}

func (s *memStore) SetActiveModule(_ context.Context, userID, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return fmt.Errorf("store offline")
	}
	if module == "" {
		delete(s.active, userID)
		return nil
	}
	s.active[userID] = module
	return nil
}

func (s *memStore) record(t *testing.T, userID, credentialID string) CredentialRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID][credentialID]
	if !ok {
		t.Fatalf("credential %s not in store", credentialID)
	}
	return rec
}

func (s *memStore) put(rec CredentialRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rec.UserID] == nil {
		s.records[rec.UserID] = map[string]CredentialRecord{}
	}
	s.records[rec.UserID][rec.ID] = rec
}

// fixedClock is a manually advanced Clock for deterministic window math.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testEpoch = time.Date(2025, time.November, 21, 22, 58, 10, 0, time.UTC)

func factorTestConfig() Config {
	cfg := defaultConfig()
	cfg.TOTP.Enabled = true
	cfg.TOTP.Issuer = "mfakit"
	cfg.TOTP.Period = 30
	cfg.TOTP.WindowRadius = 1
	cfg.TOTP.EnforceReplayProtection = true
	cfg.Recovery.Enabled = true
	cfg.Recovery.CodeCount = 4
	cfg.Recovery.CodeLength = 10
	return cfg
}

func webauthnTestConfig() Config {
	cfg := factorTestConfig()
	cfg.WebAuthn.Enabled = true
	cfg.WebAuthn.RPID = "example.com"
	cfg.WebAuthn.RPDisplayName = "Example"
	cfg.WebAuthn.RPOrigins = []string{"https://example.com"}
	return cfg
}

func newFactorEngine(t *testing.T, cfg Config) (*Engine, *memStore, *fixedClock, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMemStore()
	clk := &fixedClock{now: testEpoch}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithClock(clk).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, store, clk, func() {
		engine.Close()
		mr.Close()
	}
}

// codeAt computes the expected authenticator output for a base32 secret
// at a point in time, offset whole windows from it.
func codeAt(t *testing.T, secretB32 string, at time.Time, period int, offset int64) string {
	t.Helper()
	key, err := secretEncoding.DecodeString(secretB32)
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := at.Unix()/int64(period) + offset
	code, err := hotpCode(key, counter)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

// enrollTOTP walks a user through provisioning plus confirmation and
// returns the plaintext secret.
func enrollTOTP(t *testing.T, engine *Engine, clk *fixedClock, userID string) (string, string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := engine.BeginTOTPEnrollment(ctx, userID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	code := codeAt(t, enrollment.Secret, clk.Now(), engine.config.TOTP.Period, 0)
	if err := engine.ConfirmTOTPEnrollment(ctx, userID, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	return enrollment.Secret, enrollment.CredentialID
}
