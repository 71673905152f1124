package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Entry 是一份缓存的响应快照（状态码 + 头 + 完整 body）。
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Bucket 是一个命名缓存桶（对应浏览器 Cache Storage 里的一个 cache）。
type Bucket interface {
	// Match 查找 key；未命中返回 ok=false、err=nil。
	Match(ctx context.Context, key string) (Entry, bool, error)
	// Put 写入或覆盖 key。
	Put(ctx context.Context, key string, e Entry) error
}

// Store 管理全部命名桶。
type Store interface {
	// Open 打开（不存在则创建）名为 name 的桶。
	Open(ctx context.Context, name string) (Bucket, error)
	// Names 列出现有桶名（字典序）。
	Names(ctx context.Context) ([]string, error)
	// Delete 删除桶；不存在时返回 false。
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendRedis  = "redis"
)

// Options 是 New 的输入（来自 config.cache）。
type Options struct {
	Backend  string
	Dir      string // disk
	RedisURL string // redis
	Prefix   string // redis key 前缀
}

// New 按 backend 构造 Store。
func New(opt Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opt.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendDisk:
		if strings.TrimSpace(opt.Dir) == "" {
			return nil, errors.New("cache: disk backend 需要 dir")
		}
		return NewDisk(opt.Dir), nil
	case BackendRedis:
		return NewRedis(opt.RedisURL, opt.Prefix)
	default:
		return nil, fmt.Errorf("cache: 未知 backend：%q", opt.Backend)
	}
}

var bucketNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName 限制桶名字符集（磁盘后端直接拿它当目录名）。
func ValidateName(name string) error {
	if !bucketNameRE.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("cache: 非法桶名：%q", name)
	}
	return nil
}

func cloneEntry(e Entry) Entry {
	out := e
	out.Header = e.Header.Clone()
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}
