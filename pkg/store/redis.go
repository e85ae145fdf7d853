package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic transaction retries on a contended key
const maxTxAttempts = 16

// RedisStore keeps one JSON document per entity under <prefix>:entity:<uid>
// and the set of known uids under <prefix>:entities. Every mutation runs as
// a WATCH/MULTI transaction on the entity key.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

// OpenRedis connects to addr and verifies the connection
func OpenRedis(ctx context.Context, addr string, db int, prefix string, log logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedis(client, prefix, log), nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, prefix string, log logger.Logger) *RedisStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if prefix == "" {
		prefix = "bilisub"
	}
	return &RedisStore{client: client, prefix: prefix, logger: log}
}

func (s *RedisStore) entityKey(uid int64) string {
	return fmt.Sprintf("%s:entity:%d", s.prefix, uid)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":entities"
}

func (s *RedisStore) List(ctx context.Context) ([]*models.Entity, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	if len(members) == 0 {
		return []*models.Entity{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		uid, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.WarnWithFields("Skipping malformed index member", map[string]interface{}{"member": m})
			continue
		}
		keys = append(keys, s.entityKey(uid))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	out := make([]*models.Entity, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.WarnWithFields("Indexed entity has no record", map[string]interface{}{"key": keys[i]})
			continue
		}
		var e models.Entity
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, uid int64) (*models.Entity, error) {
	return s.get(ctx, s.client, uid)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, uid int64) (*models.Entity, error) {
	raw, err := c.Get(ctx, s.entityKey(uid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read entity %d: %w", uid, err)
	}
	var e models.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity %d: %w", uid, err)
	}
	return &e, nil
}

// update runs fn against the current record inside a WATCH transaction and
// writes the result. fn receives nil when no record exists.
func (s *RedisStore) update(ctx context.Context, uid int64, fn func(e *models.Entity) (*models.Entity, error)) (*models.Entity, error) {
	key := s.entityKey(uid)
	var result *models.Entity

	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, uid)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now()
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode entity %d: %w", uid, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.indexKey(), strconv.FormatInt(uid, 10))
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		s.logger.DebugWithFields("Entity changed during transaction, retrying", map[string]interface{}{
			"uid":     uid,
			"attempt": attempt,
		})
	}
	return nil, fmt.Errorf("entity %d: too much contention after %d attempts", uid, maxTxAttempts)
}

func (s *RedisStore) AddDestination(ctx context.Context, seed *models.Entity, dest string) (*models.Entity, error) {
	return s.update(ctx, seed.UID, func(e *models.Entity) (*models.Entity, error) {
		if e == nil {
			e = seed.Clone()
			e.Destinations = nil
		}
		if !e.AddDestination(dest) {
			return nil, ErrDestinationExists
		}
		return e, nil
	})
}

func (s *RedisStore) RemoveDestination(ctx context.Context, uid int64, dest string) (*models.Entity, error) {
	return s.update(ctx, uid, func(e *models.Entity) (*models.Entity, error) {
		if e == nil || !e.RemoveDestination(dest) {
			return nil, ErrNotFound
		}
		return e, nil
	})
}

func (s *RedisStore) SaveProgress(ctx context.Context, uid int64, p models.Progress) error {
	_, err := s.update(ctx, uid, func(e *models.Entity) (*models.Entity, error) {
		if e == nil {
			return nil, ErrNotFound
		}
		e.Apply(p)
		return e, nil
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
