package provider

import (
	"fmt"
	"strings"
)

type named interface{ Name() string }

// Registry 是只读注册表（按 name 索引，同时保留注册顺序）。
type Registry[T named] struct {
	order  []string
	byName map[string]T
}

func NewRegistry[T named](items ...T) (Registry[T], error) {
	byName := make(map[string]T, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		name := strings.ToLower(strings.TrimSpace(it.Name()))
		if name == "" {
			return Registry[T]{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry[T]{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = it
		order = append(order, name)
	}
	return Registry[T]{order: order, byName: byName}, nil
}

func (r Registry[T]) Get(name string) (T, bool) {
	var zero T
	if r.byName == nil {
		return zero, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	it, ok := r.byName[name]
	if !ok {
		return zero, false
	}
	return it, true
}

// Names 按注册顺序返回全部 name。
func (r Registry[T]) Names() []string {
	return append([]string(nil), r.order...)
}

// Select 按 names 顺序取出已注册项；names 为空时返回全部（注册顺序）。
func (r Registry[T]) Select(names []string) ([]T, error) {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]T, 0, len(names))
	for _, n := range names {
		it, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("provider 未注册：%q", n)
		}
		out = append(out, it)
	}
	return out, nil
}
