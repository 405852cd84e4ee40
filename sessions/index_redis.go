package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	ierrors "github.com/jrsteele09/go-oidc-session/internal/errors"
)

const (
	sessionKeyPrefix = "oidc:session:"
	subjectKeyPrefix = "oidc:subject:"
)

// RedisIndex is the Redis-backed Index implementation for multi
// instance deployments: a back-channel logout received by any instance
// clears the session for all of them. Entries carry a TTL matching the
// session expiry so the index never outlives the cookies it tracks.
type RedisIndex struct {
	client  *redis.Client
	nowFunc func() time.Time
}

type RedisIndexOption func(*RedisIndex)

// WithRedisIndexNowFunc sets the now time function (primarily for testing)
func WithRedisIndexNowFunc(now func() time.Time) RedisIndexOption {
	return func(i *RedisIndex) {
		i.nowFunc = now
	}
}

func NewRedisIndex(client *redis.Client, options ...RedisIndexOption) *RedisIndex {
	i := &RedisIndex{client: client, nowFunc: time.Now}
	for _, opt := range options {
		opt(i)
	}
	return i
}

func (i *RedisIndex) Put(ctx context.Context, issuer, sessionID string, entry Entry) error {
	if issuer == "" || sessionID == "" {
		return errors.New("issuer and sessionID are required")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "RedisIndex.Put marshal")
	}

	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(i.nowFunc())
		if ttl <= 0 {
			return nil
		}
	}

	pipe := i.client.TxPipeline()
	pipe.Set(ctx, sessionKey(issuer, sessionID), data, ttl)
	if entry.Subject != "" {
		pipe.SAdd(ctx, subjectKey(issuer, entry.Subject), sessionID)
		if ttl > 0 {
			pipe.Expire(ctx, subjectKey(issuer, entry.Subject), ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "RedisIndex.Put")
	}
	return nil
}

// Replace leans on SET XX so the write is atomic with a concurrent
// DEL: the key must still exist for the update to land.
func (i *RedisIndex) Replace(ctx context.Context, issuer, sessionID string, entry Entry) error {
	if issuer == "" || sessionID == "" {
		return errors.New("issuer and sessionID are required")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "RedisIndex.Replace marshal")
	}

	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(i.nowFunc())
		if ttl <= 0 {
			return errors.Wrapf(ierrors.ErrSessionNotFound, "session %q expired", sessionID)
		}
	}

	set, err := i.client.SetXX(ctx, sessionKey(issuer, sessionID), data, ttl).Result()
	if err != nil {
		return errors.Wrap(err, "RedisIndex.Replace")
	}
	if !set {
		return errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}

	if entry.Subject != "" && ttl > 0 {
		_ = i.client.Expire(ctx, subjectKey(issuer, entry.Subject), ttl).Err()
	}
	return nil
}

func (i *RedisIndex) Get(ctx context.Context, issuer, sessionID string) (Entry, error) {
	data, err := i.client.Get(ctx, sessionKey(issuer, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, errors.Wrapf(ierrors.ErrSessionNotFound, "session %q", sessionID)
	}
	if err != nil {
		return Entry{}, errors.Wrap(err, "RedisIndex.Get")
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, errors.Wrap(err, "RedisIndex.Get unmarshal")
	}
	return entry, nil
}

func (i *RedisIndex) Delete(ctx context.Context, issuer, sessionID string) error {
	entry, err := i.Get(ctx, issuer, sessionID)
	if err == nil && entry.Subject != "" {
		_ = i.client.SRem(ctx, subjectKey(issuer, entry.Subject), sessionID).Err()
	}
	if err := i.client.Del(ctx, sessionKey(issuer, sessionID)).Err(); err != nil {
		return errors.Wrap(err, "RedisIndex.Delete")
	}
	return nil
}

func (i *RedisIndex) DeleteBySubject(ctx context.Context, issuer, subject string) error {
	sessionIDs, err := i.client.SMembers(ctx, subjectKey(issuer, subject)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "RedisIndex.DeleteBySubject")
	}

	for _, sessionID := range sessionIDs {
		if err := i.client.Del(ctx, sessionKey(issuer, sessionID)).Err(); err != nil {
			return errors.Wrap(err, "RedisIndex.DeleteBySubject")
		}
	}
	if err := i.client.Del(ctx, subjectKey(issuer, subject)).Err(); err != nil {
		return errors.Wrap(err, "RedisIndex.DeleteBySubject")
	}
	return nil
}

func (i *RedisIndex) Clear(ctx context.Context) error {
	for _, prefix := range []string{sessionKeyPrefix, subjectKeyPrefix} {
		iter := i.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := i.client.Del(ctx, iter.Val()).Err(); err != nil {
				return errors.Wrap(err, "RedisIndex.Clear")
			}
		}
		if err := iter.Err(); err != nil {
			return errors.Wrap(err, "RedisIndex.Clear scan")
		}
	}
	return nil
}

func sessionKey(issuer, sessionID string) string {
	return sessionKeyPrefix + issuer + ":" + sessionID
}

func subjectKey(issuer, subject string) string {
	return subjectKeyPrefix + issuer + ":" + subject
}
