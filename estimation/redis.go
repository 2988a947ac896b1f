package estimation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const resourceSeparator = ":"

// RedisStore keeps entries in three hashes keyed by submitter:
// <prefix>:resources (":"-joined), <prefix>:handlers and <prefix>:durations (milliseconds).
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(kind string) string {
	return s.prefix + ":" + kind
}

func (s *RedisStore) Get(ctx context.Context, submitter string) (Entry, error) {
	pipe := s.rdb.Pipeline()
	res := pipe.HGet(ctx, s.key("resources"), submitter)
	handler := pipe.HGet(ctx, s.key("handlers"), submitter)
	dur := pipe.HGet(ctx, s.key("durations"), submitter)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("failed to read defaults for %s: %w", submitter, err)
	}

	var (
		e     Entry
		found bool
	)
	if v, err := res.Result(); err == nil {
		found = true
		for _, r := range strings.Split(v, resourceSeparator) {
			if r != "" {
				e.Resources = append(e.Resources, r)
			}
		}
	}
	if v, err := handler.Result(); err == nil {
		found = true
		e.Handler = v
	}
	if v, err := dur.Result(); err == nil {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid duration %q for %s: %w", v, submitter, err)
		}
		found = true
		e.Duration = time.Duration(ms) * time.Millisecond
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *RedisStore) Put(ctx context.Context, submitter string, e Entry) error {
	pipe := s.rdb.TxPipeline()
	if len(e.Resources) > 0 {
		pipe.HSet(ctx, s.key("resources"), submitter, strings.Join(e.Resources, resourceSeparator))
	}
	if e.Handler != "" {
		pipe.HSet(ctx, s.key("handlers"), submitter, e.Handler)
	}
	if e.Duration > 0 {
		pipe.HSet(ctx, s.key("durations"), submitter, e.Duration.Milliseconds())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store defaults for %s: %w", submitter, err)
	}
	return nil
}
