package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "epicfree:cache"

// Redis 让多个 serve 实例共享同一份缓存。
//
// 布局：
// - <prefix>:names          SET，全部桶名
// - <prefix>:bucket:<name>  HASH，field=key，value=Entry JSON
type Redis struct {
	cli    *redis.Client
	prefix string
}

func NewRedis(url, prefix string) (*Redis, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("cache: redis backend 需要 redis_url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: 解析 redis_url 失败：%w", err)
	}
	return NewRedisWithClient(redis.NewClient(opt), prefix), nil
}

func NewRedisWithClient(cli *redis.Client, prefix string) *Redis {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{cli: cli, prefix: prefix}
}

func (r *Redis) namesKey() string { return r.prefix + ":names" }

func (r *Redis) bucketKey(name string) string { return r.prefix + ":bucket:" + name }

func (r *Redis) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := r.cli.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		return nil, err
	}
	return &redisBucket{cli: r.cli, key: r.bucketKey(name)}, nil
}

func (r *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := r.cli.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *Redis) Delete(ctx context.Context, name string) (bool, error) {
	pipe := r.cli.TxPipeline()
	removed := pipe.SRem(ctx, r.namesKey(), name)
	pipe.Del(ctx, r.bucketKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (r *Redis) Close() error { return r.cli.Close() }

type redisBucket struct {
	cli *redis.Client
	key string
}

func (b *redisBucket) Match(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := b.cli.HGet(ctx, b.key, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (b *redisBucket) Put(ctx context.Context, key string, e Entry) error {
	e.Key = key
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: 序列化条目失败：%w", err)
	}
	return b.cli.HSet(ctx, b.key, key, raw).Err()
}
