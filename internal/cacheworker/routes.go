package cacheworker

import (
	"net/url"
	"strings"
)

// Mode 是访问网络时的缓存模式。
type Mode int

const (
	// ModeDefault 按原请求访问网络。
	ModeDefault Mode = iota
	// ModeReload 强制中间缓存重新验证（Cache-Control/Pragma: no-cache）。
	ModeReload
)

func (m Mode) String() string {
	if m == ModeReload {
		return "reload"
	}
	return "default"
}

// Route 是一条按路径生效的缓存策略：key 归一化方式 + 网络缓存模式。
// 路由表按顺序匹配，第一条命中的生效；新增的特例只需追加一条 Route。
type Route struct {
	Name  string
	Match func(u *url.URL) bool
	Key   func(u *url.URL) string
	Mode  Mode
}

// RequestKey 是默认 key：path + query（与 host 无关）。
func RequestKey(u *url.URL) string {
	return u.RequestURI()
}

// FixedKey 忽略 query，总是返回同一个规范 key。
func FixedKey(key string) func(*url.URL) string {
	return func(*url.URL) string { return key }
}

// PathIs 精确匹配路径。
func PathIs(p string) func(*url.URL) bool {
	return func(u *url.URL) bool { return u.Path == p }
}

// DefaultRoutes 返回 feed 特例 + 兜底路由。feedPath 形如 "/data/games-free.json"。
func DefaultRoutes(feedPath string) []Route {
	if !strings.HasPrefix(feedPath, "/") {
		feedPath = "/" + feedPath
	}
	return []Route{
		{Name: "feed", Match: PathIs(feedPath), Key: FixedKey(feedPath), Mode: ModeReload},
		{Name: "default", Match: func(*url.URL) bool { return true }, Key: RequestKey, Mode: ModeDefault},
	}
}

// resolve 返回 u 命中的路由；路由表为空或都不命中时使用默认策略。
func resolve(routes []Route, u *url.URL) Route {
	for _, r := range routes {
		if r.Match != nil && r.Match(u) {
			if r.Key == nil {
				r.Key = RequestKey
			}
			return r
		}
	}
	return Route{Name: "default", Key: RequestKey, Mode: ModeDefault}
}
