// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jason-s-yu/panenka/internal/models"
)

const (
	redisLobbyPrefix = "panenka:lobby:"
	redisCodesKey    = "panenka:lobbies"
)

// RedisStore keeps each lobby as one JSON document. Transactions are optimistic:
// WATCH the key, mutate, then MULTI/EXEC; a concurrent write aborts with ErrConflict.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. ttl is applied to every lobby key on write
// as a safety net for lobbies nobody touches again; zero disables it.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func lobbyKey(code string) string {
	return redisLobbyPrefix + code
}

func (s *RedisStore) Create(ctx context.Context, lobby *models.Lobby) error {
	data, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("error marshaling lobby data: %w", err)
	}
	ok, err := s.client.SetNX(ctx, lobbyKey(lobby.Code), data, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}
	return s.client.SAdd(ctx, redisCodesKey, lobby.Code).Err()
}

func (s *RedisStore) WithLobby(ctx context.Context, code string, fn TxFunc) (*models.Lobby, error) {
	key := lobbyKey(code)
	var committed *models.Lobby

	txf := func(tx *redis.Tx) error {
		committed = nil
		l, err := redisLoad(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		if l.Closed {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, redisCodesKey, code)
				return nil
			})
			return err
		}
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("error marshaling lobby data: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		committed = l
		return nil
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("%w: lobby %s modified concurrently", ErrConflict, code)
		}
		return nil, err
	}
	return committed, nil
}

func (s *RedisStore) ReadLobby(ctx context.Context, code string) (*models.Lobby, error) {
	return redisLoad(ctx, s.client, lobbyKey(code))
}

// ListCodes returns stored codes and forgets the ones whose key already expired.
func (s *RedisStore) ListCodes(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, redisCodesKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, code := range members {
		checks[i] = pipe.Exists(ctx, lobbyKey(code))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	var codes, stale []string
	for i, code := range members {
		if checks[i].Val() == 1 {
			codes = append(codes, code)
		} else {
			stale = append(stale, code)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, redisCodesKey, stale).Err(); err != nil {
			return nil, err
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection for tests and health checks.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func redisLoad(ctx context.Context, c redisGetter, key string) (*models.Lobby, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting lobby data: %w", err)
	}
	var l models.Lobby
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("error unmarshaling lobby data: %w", err)
	}
	if l.Players == nil {
		l.Players = make(map[string]*models.Player)
	}
	if l.BuzzOrder == nil {
		l.BuzzOrder = []string{}
	}
	return &l, nil
}
