package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStore keeps each session's cart as an ordered set of product ids.
// It holds no authoritative state: reservations live on the product rows.
type SessionStore interface {
	Add(ctx context.Context, sessionID string, productID uuid.UUID, addedAt time.Time) error
	Remove(ctx context.Context, sessionID string, productID uuid.UUID) error
	Members(ctx context.Context, sessionID string) ([]uuid.UUID, error)
	Contains(ctx context.Context, sessionID string, productID uuid.UUID) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

type sortedSetClient interface {
	SetAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetContains(ctx context.Context, key, member string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CartKey(sessionID string) string
}

// RedisStore keeps one sorted set per session scored by the time an item was
// added. Every add refreshes the key TTL so abandoned carts disappear.
type RedisStore struct {
	client sortedSetClient
	ttl    time.Duration
}

func NewRedisStore(client sortedSetClient, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Add(ctx context.Context, sessionID string, productID uuid.UUID, addedAt time.Time) error {
	return s.client.SetAdd(ctx, s.client.CartKey(sessionID), productID.String(), float64(addedAt.UnixMicro()), s.ttl)
}

func (s *RedisStore) Remove(ctx context.Context, sessionID string, productID uuid.UUID) error {
	return s.client.SetRemove(ctx, s.client.CartKey(sessionID), productID.String())
}

// Members returns the cart ids oldest first. Members that are not valid ids
// are skipped.
func (s *RedisStore) Members(ctx context.Context, sessionID string) ([]uuid.UUID, error) {
	raw, err := s.client.SetMembers(ctx, s.client.CartKey(sessionID))
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, member := range raw {
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisStore) Contains(ctx context.Context, sessionID string, productID uuid.UUID) (bool, error) {
	return s.client.SetContains(ctx, s.client.CartKey(sessionID), productID.String())
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.client.CartKey(sessionID))
}
