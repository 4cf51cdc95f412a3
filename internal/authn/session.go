package authn

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("authn: session not found")

// Session is the Redis-backed record joining one access/refresh token pair,
// as described in the data model. Redis TTL on the key enforces expiry
// without a separate sweep.
type Session struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	AccessTokenID  string    `json:"access_token_id"`
	RefreshTokenID string    `json:"refresh_token_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastSeen       time.Time `json:"last_seen"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in Redis, keyed so a user's whole session set
// can be enumerated and torn down together (end_all_user_sessions, also
// run on password change).
type SessionStore struct {
	rdb *redis.Client
}

func NewSessionStore(rdb *redis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func sessionKey(id string) string  { return "session:" + id }
func userSessionsKey(userID string) string { return "user_sessions:" + userID }

func (s *SessionStore) Create(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.SessionID), payload, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.SessionID)
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Touch bumps last_seen without resetting the session's underlying TTL.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastSeen = time.Now().UTC()
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := s.rdb.TTL(ctx, sessionKey(sessionID)).Val()
	if ttl <= 0 {
		ttl = time.Until(sess.ExpiresAt)
	}
	return s.rdb.Set(ctx, sessionKey(sessionID), payload, ttl).Err()
}

// Delete ends one session. It does not revoke tokens: the caller
// (Service.EndSession) revokes first, then deletes the session row, so a
// validate() racing the deletion still sees the revocation.
func (s *SessionStore) Delete(ctx context.Context, sess *Session) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(sess.SessionID))
	pipe.SRem(ctx, userSessionsKey(sess.UserID), sess.SessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var sessions []*Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// Expired naturally; drop the stale membership entry.
			s.rdb.SRem(ctx, userSessionsKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) error {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.Delete(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}
