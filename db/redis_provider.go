package db

import (
	"context"
	"time"

	"github.com/mezonai/mmn-aa/logx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisTimeout  = 5 * time.Second
	redisScanSize = 512
)

// RedisProvider keeps state and receipts in one Redis database. Batches run
// as MULTI/EXEC so a commit lands atomically.
type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(address string, dbIndex int) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		DB:           dbIndex,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", address)
	}
	logx.Info("REDIS", "connected to", address, "db", dbIndex)
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Get(key []byte) ([]byte, error) {
	value, err := p.client.Get(context.Background(), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %q", key)
	}
	return value, nil
}

func (p *RedisProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = string(key)
	}
	return p.mget(context.Background(), names)
}

func (p *RedisProvider) mget(ctx context.Context, names []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(names))
	if len(names) == 0 {
		return result, nil
	}
	values, err := p.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			result[names[i]] = []byte(s)
		}
	}
	return result, nil
}

func (p *RedisProvider) Put(key, value []byte) error {
	return errors.Wrap(p.client.Set(context.Background(), string(key), value, 0).Err(), "redis set")
}

func (p *RedisProvider) Batch() DatabaseBatch {
	return &redisBatch{pipe: p.client.TxPipeline()}
}

// IteratePrefix scans matching keys page by page and fetches each page with
// one MGET. Unlike LevelDB the visiting order is unspecified.
func (p *RedisProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	ctx := context.Background()
	pattern := string(prefix) + "*"
	var cursor uint64
	for {
		names, next, err := p.client.Scan(ctx, cursor, pattern, redisScanSize).Result()
		if err != nil {
			return errors.Wrap(err, "redis scan")
		}
		values, err := p.mget(ctx, names)
		if err != nil {
			return err
		}
		for _, name := range names {
			v, ok := values[name]
			if !ok {
				continue
			}
			if !fn([]byte(name), v) {
				return nil
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

type redisBatch struct {
	pipe redis.Pipeliner
}

func (b *redisBatch) Put(key, value []byte) {
	b.pipe.Set(context.Background(), string(key), value, 0)
}

func (b *redisBatch) Delete(key []byte) {
	b.pipe.Del(context.Background(), string(key))
}

func (b *redisBatch) Write() error {
	if b.pipe.Len() == 0 {
		return nil
	}
	_, err := b.pipe.Exec(context.Background())
	return errors.Wrap(err, "redis multi/exec")
}

func (b *redisBatch) Close() { b.pipe.Discard() }
