package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/epicfree/internal/infra/fsx"
)

// Disk 把每个桶存成 <root>/<name>/ 目录，每个条目一个 JSON 文件。
//
// 文件名是 key 的 sha256，写入走 fsx 原子替换，进程重启后缓存仍在。
type Disk struct {
	Root string
}

func NewDisk(root string) *Disk {
	return &Disk{Root: filepath.Clean(strings.TrimSpace(root))}
}

func (d *Disk) Open(_ context.Context, name string) (Bucket, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(d.Root, name)
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return nil, &fsx.PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskBucket{dir: dir}, nil
}

func (d *Disk) Names(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (d *Disk) Delete(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(d.Root, name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Disk) Close() error { return nil }

type diskBucket struct {
	dir string
}

func entryFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}

func (b *diskBucket) Match(_ context.Context, key string) (Entry, bool, error) {
	raw, ok, err := fsx.ReadFileIfExists(filepath.Join(b.dir, entryFileName(key)))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// 损坏条目按未命中处理，下次成功的网络响应会覆盖它。
		return Entry{}, false, nil
	}
	if e.Key != key {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (b *diskBucket) Put(_ context.Context, key string, e Entry) error {
	e.Key = key
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: 序列化条目失败：%w", err)
	}
	return fsx.WriteFileAtomic(b.dir, entryFileName(key), raw)
}
