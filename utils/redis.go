package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"notekeep/models"
)

// OpenRedisPool initializes a Redis connection pool
func OpenRedisPool(ctx context.Context, dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	opt.PoolSize = 100
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func sessionKey(token string) string { return "session:" + token }

func userSessionsKey(userID int64) string { return "user_sessions:" + strconv.FormatInt(userID, 10) }

// SessionStore keeps authenticated sessions in Redis hashes keyed by the
// session token, with a per-user index set.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Create starts a session for user and returns it with fresh session and
// CSRF tokens.
func (s *SessionStore) Create(ctx context.Context, user models.User, r *http.Request) (models.Session, error) {
	sessionToken, err := GenerateToken(32)
	if err != nil {
		return models.Session{}, err
	}
	csrfToken, err := GenerateToken(32)
	if err != nil {
		return models.Session{}, err
	}

	now := s.now().UTC()
	session := models.Session{
		SessionToken: sessionToken,
		UserID:       user.ID,
		Username:     user.Username,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
		CSRFToken:    csrfToken,
		UserAgent:    GetUserAgent(r),
		IPAddress:    GetIP(r),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(sessionToken)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"user_id":       strconv.FormatInt(session.UserID, 10),
			"username":      session.Username,
			"created_at":    session.CreatedAt.Format(time.RFC3339Nano),
			"expires_at":    session.ExpiresAt.Format(time.RFC3339Nano),
			"last_activity": session.LastActivity.Format(time.RFC3339Nano),
			"csrf_token":    session.CSRFToken,
			"user_agent":    session.UserAgent,
			"ip_address":    session.IPAddress,
		})
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, userSessionsKey(session.UserID), key)
		pipe.Expire(ctx, userSessionsKey(session.UserID), s.ttl)
		return nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("storing session: %w", err)
	}
	return session, nil
}

// Get returns the live session for token or ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := s.client.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return models.Session{}, fmt.Errorf("loading session: %w", err)
	}
	if len(data) == 0 {
		return models.Session{}, ErrSessionNotFound
	}

	userID, err := strconv.ParseInt(data["user_id"], 10, 64)
	if err != nil {
		return models.Session{}, ErrSessionNotFound
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, data["expires_at"])
	if err != nil || !s.now().Before(expiresAt) {
		return models.Session{}, ErrSessionNotFound
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, data["created_at"])
	lastActivity, _ := time.Parse(time.RFC3339Nano, data["last_activity"])

	return models.Session{
		SessionToken: token,
		UserID:       userID,
		Username:     data["username"],
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		LastActivity: lastActivity,
		CSRFToken:    data["csrf_token"],
		UserAgent:    data["user_agent"],
		IPAddress:    data["ip_address"],
	}, nil
}

// Touch updates the last activity timestamp of a session
func (s *SessionStore) Touch(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(token)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return s.client.HSet(ctx, key, "last_activity", s.now().UTC().Format(time.RFC3339Nano)).Err()
}

// Delete removes a single session and its reference in the user index.
// Unknown tokens are ignored.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(token)
	rawID, err := s.client.HGet(ctx, key, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	if userID, err := strconv.ParseInt(rawID, 10, 64); err == nil {
		if err := s.client.SRem(ctx, userSessionsKey(userID), key).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, key).Err()
}

// DeleteAllForUser removes all sessions associated with a specific user
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	index := userSessionsKey(userID)
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, index).Err()
}

// UsedResetTokens remembers consumed reset token ids until they would have
// expired anyway, making reset links single-use.
type UsedResetTokens struct {
	client *redis.Client
}

func NewUsedResetTokens(client *redis.Client) *UsedResetTokens {
	return &UsedResetTokens{client: client}
}

func usedTokenKey(id string) string { return "reset_used:" + id }

func (u *UsedResetTokens) IsUsed(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := u.client.Exists(ctx, usedTokenKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Consume marks id as used. It reports false when it was already used.
func (u *UsedResetTokens) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if ttl < time.Second {
		ttl = time.Second
	}
	return u.client.SetNX(ctx, usedTokenKey(id), 1, ttl).Result()
}

// Release forgets a consumed id so the link can be retried after a failed
// password update.
func (u *UsedResetTokens) Release(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return u.client.Del(ctx, usedTokenKey(id)).Err()
}
