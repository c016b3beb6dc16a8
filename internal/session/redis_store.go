package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"snapvault/internal/models"
)

// RedisConfig configures the Redis-backed session store.
type RedisConfig struct {
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	PoolSize   int
	KeyPrefix  string
}

// RedisStore keeps sessions in Redis, using key TTLs for expiry. Expired
// sessions vanish on their own, so PurgeExpired only trims the album index
// sets.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects a session store to Redis. The caller is responsible
// for ensuring the Redis instance is reachable.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "snapvault:session"
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      addrs,
		MasterName: strings.TrimSpace(cfg.MasterName),
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		PoolSize:   cfg.PoolSize,
		MaxRetries: 2,
	})
	store := &RedisStore{client: client, prefix: prefix}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

// Close releases the Redis client resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) tokenKey(token string) string { return s.prefix + ":token:" + token }
func (s *RedisStore) idKey(id string) string       { return s.prefix + ":id:" + id }
func (s *RedisStore) albumKey(albumID string) string {
	return s.prefix + ":album:" + albumID
}

func (s *RedisStore) Save(ctx context.Context, session models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(session.Token), payload, 0)
	pipe.ExpireAt(ctx, s.tokenKey(session.Token), session.ExpiresAt)
	pipe.Set(ctx, s.idKey(session.ID), session.Token, 0)
	pipe.ExpireAt(ctx, s.idKey(session.ID), session.ExpiresAt)
	pipe.SAdd(ctx, s.albumKey(session.AlbumID), session.Token)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, token string) (models.Session, bool, error) {
	payload, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return models.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	session.Token = token
	return session, true, nil
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (models.Session, bool, error) {
	token, err := s.client.Get(ctx, s.idKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	return s.Get(ctx, token)
}

func (s *RedisStore) Update(ctx context.Context, session models.Session) error {
	exists, err := s.client.Exists(ctx, s.tokenKey(session.Token)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, s.tokenKey(session.Token), payload, redis.KeepTTL).Err()
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	session, ok, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(token))
	if ok {
		pipe.Del(ctx, s.idKey(session.ID))
		pipe.SRem(ctx, s.albumKey(session.AlbumID), token)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListByAlbum(ctx context.Context, albumID string) ([]models.Session, error) {
	tokens, err := s.client.SMembers(ctx, s.albumKey(albumID)).Result()
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	for _, token := range tokens {
		session, ok, err := s.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Key expired underneath the index; drop the stale member.
			s.client.SRem(ctx, s.albumKey(albumID), token)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// PurgeExpired relies on Redis TTLs for the session keys themselves and only
// compacts album index sets whose members have expired.
func (s *RedisStore) PurgeExpired(ctx context.Context, _ time.Time) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":album:*", 0).Iterator()
	for iter.Next(ctx) {
		albumKey := iter.Val()
		tokens, err := s.client.SMembers(ctx, albumKey).Result()
		if err != nil {
			return err
		}
		for _, token := range tokens {
			exists, err := s.client.Exists(ctx, s.tokenKey(token)).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, albumKey, token).Err(); err != nil {
					return err
				}
			}
		}
	}
	return iter.Err()
}

// Ping verifies the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
