package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-rooms/internal/game"
)

const (
	idleIndexKey = "chess:index:idle"
	holdIndexKey = "chess:index:hold"
)

var errVersionMismatch = errors.New("version mismatch")

// RedisStore keeps each record as JSON under chess:game:<id> and guards
// writes with WATCH/MULTI. Non-terminal games are indexed by last player
// action, waiting games with an open seat hold by its deadline.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis parses a redis:// URL and verifies connectivity.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisStore wraps rdb; the client stays owned by the caller.
// ttl>0 is an opt-in retention: keys expire ttl after their last write.
// ttl<=0 keeps records forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func gameKey(id string) string { return "chess:game:" + strings.TrimSpace(id) }

func (s *RedisStore) Get(ctx context.Context, id string) (*game.Record, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) Create(ctx context.Context, rec *game.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(rec.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrExists
	}
	if _, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		index(ctx, pipe, rec)
		return nil
	}); err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	return nil
}

// index keeps both sweep indexes in line with rec.
func index(ctx context.Context, pipe redis.Pipeliner, rec *game.Record) {
	if rec.Status.Terminal() {
		pipe.ZRem(ctx, idleIndexKey, rec.ID)
	} else {
		pipe.ZAdd(ctx, idleIndexKey, redis.Z{Score: float64(rec.LastActive().UnixMilli()), Member: rec.ID})
	}
	if hold := rec.HoldDeadline(); hold.IsZero() {
		pipe.ZRem(ctx, holdIndexKey, rec.ID)
	} else {
		pipe.ZAdd(ctx, holdIndexKey, redis.Z{Score: float64(hold.UnixMilli()), Member: rec.ID})
	}
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, rec *game.Record, expected int64) (bool, error) {
	key := gameKey(rec.ID)
	newRaw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return game.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return errVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, s.ttl)
			index(ctx, pipe, rec)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, errVersionMismatch):
		return false, nil
	default:
		return false, err
	}
}

func (s *RedisStore) ListStale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.rangeIndex(ctx, idleIndexKey, "("+strconv.FormatInt(before.UnixMilli(), 10), limit)
}

func (s *RedisStore) ListExpiredHolds(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.rangeIndex(ctx, holdIndexKey, strconv.FormatInt(before.UnixMilli(), 10), limit)
}

func (s *RedisStore) rangeIndex(ctx context.Context, key, upper string, limit int) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: upper}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, key, by).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", key, err)
	}
	out := ids[:0]
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, gameKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis exists: %w", err)
		}
		if n == 0 {
			// 만료된 키는 인덱스에서도 정리
			_ = s.rdb.ZRem(ctx, key, id).Err()
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Close is a no-op; the client is shared with the change relay.
func (s *RedisStore) Close() error { return nil }

func decodeRecord(raw []byte) (*game.Record, error) {
	var rec game.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
