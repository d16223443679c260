package mfakit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix = "wa"

	ceremonyRegistration   = "reg"
	ceremonyAuthentication = "auth"
)

// challengeStore keeps pending WebAuthn ceremony state in Redis. One
// slot exists per user and ceremony kind, so starting a new ceremony
// overwrites any challenge still outstanding, and retrieval is a GETDEL
// so a challenge can complete at most once.
type challengeStore struct {
	redis  *redis.Client
	prefix string
}

func newChallengeStore(redisClient *redis.Client, prefix string) *challengeStore {
	return &challengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *challengeStore) key(userID, ceremony string) string {
	return s.prefix + ":" + challengeKeyPrefix + ":" + ceremony + ":" + userID
}

// Save stores the ceremony session, replacing any previous one for the
// same user and ceremony.
func (s *challengeStore) Save(ctx context.Context, userID, ceremony string, session *webauthn.SessionData, ttl time.Duration) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode webauthn session: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(userID, ceremony), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

// Take atomically retrieves and deletes the pending session. A missing
// or expired slot yields [ErrChallengeNotFound].
func (s *challengeStore) Take(ctx context.Context, userID, ceremony string) (*webauthn.SessionData, error) {
	data, err := s.redis.GetDel(ctx, s.key(userID, ceremony)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode webauthn session: %w", err)
	}
	return &session, nil
}

// Drop removes a pending session without returning it.
func (s *challengeStore) Drop(ctx context.Context, userID, ceremony string) error {
	if err := s.redis.Del(ctx, s.key(userID, ceremony)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}
