package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/clip-tender/capture"
)

const (
	redisKeyPrefix = "capture:"
	redisIndexKey  = "captures"
)

// NewRedisClient opens a go-redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Redis stores each capture as a JSON string and keeps an id index set. Writes run inside
// WATCH/MULTI so a concurrent modification aborts the transaction.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. namespace is prepended to every key; empty is allowed.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{client: client, prefix: namespace}
}

func (r *Redis) key(id string) string { return r.prefix + redisKeyPrefix + id }
func (r *Redis) index() string        { return r.prefix + redisIndexKey }

// List returns all captures ordered by RecordedAt then ID.
func (r *Redis) List(ctx context.Context) ([]capture.Capture, error) {
	ids, err := r.client.SMembers(ctx, r.index()).Result()
	if err != nil {
		return nil, capture.Transient("redis list", err)
	}
	if len(ids) == 0 {
		return []capture.Capture{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, capture.Transient("redis list", err)
	}
	out := make([]capture.Capture, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		var c capture.Capture
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return nil, fmt.Errorf("decode capture %s: %w", ids[i], err)
		}
		out = append(out, c)
	}
	SortCaptures(out)
	return out, nil
}

// Get returns the capture with id or capture.ErrNotFound.
func (r *Redis) Get(ctx context.Context, id string) (capture.Capture, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return capture.Capture{}, capture.ErrNotFound
	}
	if err != nil {
		return capture.Capture{}, capture.Transient("redis get", err)
	}
	var c capture.Capture
	if err := json.Unmarshal(raw, &c); err != nil {
		return capture.Capture{}, fmt.Errorf("decode capture %s: %w", id, err)
	}
	return c, nil
}

// Put writes c if the stored version still equals c.Version (zero means insert).
func (r *Redis) Put(ctx context.Context, c capture.Capture) (capture.Capture, error) {
	key := r.key(c.ID)
	next := c.Clone()
	next.Version = c.Version + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return capture.Capture{}, fmt.Errorf("encode capture %s: %w", c.ID, err)
	}
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.current(ctx, tx, key)
		if err != nil {
			return err
		}
		switch {
		case c.Version == 0 && cur != nil:
			return capture.ErrConflict
		case c.Version != 0 && cur == nil:
			return capture.ErrNotFound
		case cur != nil && cur.Version != c.Version:
			return capture.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.index(), c.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return capture.Capture{}, r.mapErr("redis put", err)
	}
	return next, nil
}

// Delete removes id; a non-zero version makes it conditional.
func (r *Redis) Delete(ctx context.Context, id string, version int64) error {
	key := r.key(id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.current(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur == nil {
			return capture.ErrNotFound
		}
		if version != 0 && cur.Version != version {
			return capture.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.index(), id)
			return nil
		})
		return err
	}, key)
	return r.mapErr("redis delete", err)
}

func (r *Redis) current(ctx context.Context, tx *redis.Tx, key string) (*capture.Capture, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c capture.Capture
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &c, nil
}

func (r *Redis) mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return capture.ErrConflict
	case errors.Is(err, capture.ErrConflict), errors.Is(err, capture.ErrNotFound):
		return err
	default:
		return capture.Transient(op, err)
	}
}
