package ratings

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps ratings in a sorted set scored by trailing index plus a
// hash of identifier to rating, so several server processes can share one
// rating queue. Consume pops the queue and reads and deletes the rating in one
// script, so a concurrent Submit of the same artifact is never half-consumed.
type RedisStore struct {
	rdb       *redis.Client
	queueKey  string
	ratingKey string
}

// consumeScript returns {member, score, rating} for the lowest index, or nil
// when the queue is empty. A missing rating is returned as nil.
var consumeScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local rating = redis.call('HGET', KEYS[2], popped[1])
redis.call('HDEL', KEYS[2], popped[1])
return {popped[1], popped[2], rating}
`)

// NewRedisStore scopes all keys under prefix, typically a session or run id.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		queueKey:  fmt.Sprintf("ratings:%s:queue", prefix),
		ratingKey: fmt.Sprintf("ratings:%s:values", prefix),
	}
}

func (s *RedisStore) Submit(ctx context.Context, artifact string, rating int) error {
	index, err := ParseIndex(artifact)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.queueKey, &redis.Z{Score: float64(index), Member: artifact})
		pipe.HSet(ctx, s.ratingKey, artifact, rating)
		return nil
	})
	if err != nil {
		return fmt.Errorf("submit rating %s: %w", artifact, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context) (Entry, bool, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{s.queueKey, s.ratingKey}).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("pop rating: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 3 {
		return Entry{}, false, fmt.Errorf("unexpected consume reply %v", res)
	}
	artifact, ok := fields[0].(string)
	if !ok {
		return Entry{}, false, fmt.Errorf("unexpected rating member %v", fields[0])
	}
	score, _ := fields[1].(string)
	index, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse rating index %q: %w", score, err)
	}
	entry := Entry{Artifact: artifact, Index: int(index)}
	if value, ok := fields[2].(string); ok {
		if entry.Rating, err = strconv.Atoi(value); err != nil {
			return Entry{}, false, fmt.Errorf("parse rating %s: %w", artifact, err)
		}
	}
	return entry, true, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.queueKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.queueKey, s.ratingKey).Err()
}
