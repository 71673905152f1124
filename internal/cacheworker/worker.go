package cacheworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/infra/cache"
)

// putTimeout 限制后台写缓存的耗时（与请求生命周期脱钩）。
const putTimeout = 10 * time.Second

// maxCacheBody 以上的响应只透传不缓存。
const maxCacheBody = 16 << 20

type state int

const (
	stateNew state = iota
	stateInstalled
	stateActive
)

func (s state) String() string {
	switch s {
	case stateInstalled:
		return "installed"
	case stateActive:
		return "active"
	default:
		return "new"
	}
}

// ErrNotInstalled 表示在 Install 之前调用了 Activate。
var ErrNotInstalled = errors.New("cacheworker: 尚未安装")

// Worker 是一个 http.RoundTripper：网络优先，失败回退缓存。
//
// 生命周期：
// - Install：打开版本桶并预取静态清单；单项失败只记日志
// - Activate：删除所有非当前版本的桶，然后接管请求
// - 接管之前 RoundTrip 只是透传
type Worker struct {
	Name     string // 缓存版本（桶名）；换名即整体失效
	Precache []string
	Routes   []Route
	BaseURL  *url.URL // Install 预取时的源站地址
	Network  http.RoundTripper
	Store    cache.Store
	Clock    clockwork.Clock
	Log      zerolog.Logger

	mu     sync.RWMutex
	state  state
	bucket cache.Bucket

	pending sync.WaitGroup
}

// Options 是 New 的输入。
type Options struct {
	Name     string
	Precache []string
	Routes   []Route
	BaseURL  string
	Network  http.RoundTripper
	Store    cache.Store
	Clock    clockwork.Clock
	Log      zerolog.Logger
}

func New(opt Options) (*Worker, error) {
	if err := cache.ValidateName(opt.Name); err != nil {
		return nil, err
	}
	if opt.Network == nil {
		return nil, errors.New("cacheworker: Network 不能为空")
	}
	if opt.Store == nil {
		return nil, errors.New("cacheworker: Store 不能为空")
	}
	base, err := url.Parse(strings.TrimRight(opt.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("cacheworker: BaseURL 无效：%q", opt.BaseURL)
	}
	clock := opt.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		Name:     opt.Name,
		Precache: append([]string(nil), opt.Precache...),
		Routes:   opt.Routes,
		BaseURL:  base,
		Network:  opt.Network,
		Store:    opt.Store,
		Clock:    clock,
		Log:      opt.Log.With().Str("cache", opt.Name).Logger(),
	}, nil
}

// Install 打开当前版本的桶并预取静态清单，返回成功缓存的条数。
// 预取失败不会让安装失败；只有打开桶失败才返回 error。
// 安装完成后立即进入待激活状态，不等待旧的使用方。
func (w *Worker) Install(ctx context.Context) (int, error) {
	b, err := w.Store.Open(ctx, w.Name)
	if err != nil {
		w.Log.Error().Err(err).Msg("打开缓存桶失败")
		return 0, err
	}

	stored := 0
	for _, p := range w.Precache {
		ref, err := url.Parse(strings.TrimPrefix(p, "/"))
		if err != nil {
			w.Log.Warn().Str("path", p).Err(err).Msg("预缓存路径无效")
			continue
		}
		u := w.BaseURL.ResolveReference(ref)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			w.Log.Warn().Str("path", p).Err(err).Msg("预缓存请求构造失败")
			continue
		}
		rt := resolve(w.Routes, req.URL)
		resp, body, err := w.fetch(req, rt.Mode)
		if err != nil {
			w.Log.Warn().Str("path", p).Err(err).Msg("预缓存失败")
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			w.Log.Warn().Str("path", p).Int("status", resp.StatusCode).Msg("预缓存跳过非 200 响应")
			continue
		}
		if body == nil {
			w.Log.Warn().Str("path", p).Msg("预缓存跳过过大的响应")
			continue
		}
		if err := b.Put(ctx, rt.Key(req.URL), w.entry(rt.Key(req.URL), resp, body)); err != nil {
			w.Log.Warn().Str("path", p).Err(err).Msg("预缓存写入失败")
			continue
		}
		stored++
	}

	w.mu.Lock()
	w.bucket = b
	if w.state == stateNew {
		w.state = stateInstalled
	}
	w.mu.Unlock()

	w.Log.Info().Int("stored", stored).Int("total", len(w.Precache)).Msg("缓存 worker 已安装")
	return stored, nil
}

// Activate 删除所有非当前版本的桶并立即接管请求，返回删除的桶名。
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	w.mu.RLock()
	st := w.state
	w.mu.RUnlock()
	if st == stateNew {
		return nil, ErrNotInstalled
	}

	names, err := w.Store.Names(ctx)
	if err != nil {
		w.Log.Error().Err(err).Msg("列出缓存桶失败")
	}
	var deleted []string
	for _, n := range names {
		if n == w.Name {
			continue
		}
		ok, err := w.Store.Delete(ctx, n)
		if err != nil {
			w.Log.Warn().Str("bucket", n).Err(err).Msg("删除旧缓存桶失败")
			continue
		}
		if ok {
			deleted = append(deleted, n)
		}
	}

	w.mu.Lock()
	w.state = stateActive
	w.mu.Unlock()

	w.Log.Info().Strs("deleted", deleted).Msg("缓存 worker 已激活")
	return deleted, nil
}

// Active 表示是否已接管请求。
func (w *Worker) Active() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state == stateActive
}

// Settle 等待所有后台缓存写入完成（关闭前或测试中调用）。
func (w *Worker) Settle() { w.pending.Wait() }

// RoundTrip 实现网络优先策略：
// 1) 网络 200：立即返回，后台写入缓存（不等待写入完成）
// 2) 网络失败：按 key 取缓存；页面导航再回退到根文档；否则合成 503
// 非 GET 请求和接管之前的请求直接透传。
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	w.mu.RLock()
	active, bucket := w.state == stateActive, w.bucket
	w.mu.RUnlock()

	if !active || req.Method != http.MethodGet {
		return w.Network.RoundTrip(req)
	}

	rt := resolve(w.Routes, req.URL)
	key := rt.Key(req.URL)

	resp, body, err := w.fetch(req, rt.Mode)
	if err == nil {
		if resp.StatusCode == http.StatusOK && bucket != nil && body != nil {
			w.putAsync(req.Context(), bucket, key, w.entry(key, resp, body))
		}
		return resp, nil
	}

	w.Log.Warn().Str("url", req.URL.String()).Str("route", rt.Name).Err(err).Msg("网络失败，回退缓存")
	if e, ok := w.match(req.Context(), bucket, key); ok {
		return fromEntry(req, e, "fallback"), nil
	}
	if isNavigation(req) {
		root := resolve(w.Routes, &url.URL{Path: "/"}).Key(&url.URL{Path: "/"})
		if e, ok := w.match(req.Context(), bucket, root); ok {
			return fromEntry(req, e, "navigation-fallback"), nil
		}
	}
	return unavailable(req), nil
}

// fetch 访问网络。返回的 resp.Body 已被读入 body 并替换为可重读的副本；
// 过大的响应保持流式透传，此时 body 为 nil。
func (w *Worker) fetch(req *http.Request, mode Mode) (*http.Response, []byte, error) {
	out := req
	if mode == ModeReload {
		out = req.Clone(req.Context())
		out.Header.Set("Cache-Control", "no-cache")
		out.Header.Set("Pragma", "no-cache")
	}
	resp, err := w.Network.RoundTrip(out)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK || resp.ContentLength > maxCacheBody {
		return resp, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheBody+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, fmt.Errorf("读取响应失败：%w", err)
	}
	if len(body) > maxCacheBody {
		// 已读的前缀接回未读的剩余部分，关闭仍交给原始 Body。
		resp.Body = prefixedBody{Reader: io.MultiReader(bytes.NewReader(body), resp.Body), Closer: resp.Body}
		return resp, nil, nil
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, body, nil
}

type prefixedBody struct {
	io.Reader
	io.Closer
}

func (w *Worker) entry(key string, resp *http.Response, body []byte) cache.Entry {
	h := resp.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Del("Set-Cookie")
	return cache.Entry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   h,
		Body:     append([]byte(nil), body...),
		StoredAt: w.Clock.Now().UTC(),
	}
}

func (w *Worker) putAsync(ctx context.Context, b cache.Bucket, key string, e cache.Entry) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), putTimeout)
		defer cancel()
		if err := b.Put(ctx, key, e); err != nil {
			w.Log.Warn().Str("key", key).Err(err).Msg("写入缓存失败")
		}
	}()
}

func (w *Worker) match(ctx context.Context, b cache.Bucket, key string) (cache.Entry, bool) {
	if b == nil {
		return cache.Entry{}, false
	}
	e, ok, err := b.Match(ctx, key)
	if err != nil {
		w.Log.Warn().Str("key", key).Err(err).Msg("读取缓存失败")
		return cache.Entry{}, false
	}
	return e, ok
}

// isNavigation 判断是否为页面导航请求。
func isNavigation(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

func fromEntry(req *http.Request, e cache.Entry, source string) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("X-Cache", source)
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func unavailable(req *http.Request) *http.Response {
	body := []byte("Offline")
	return &http.Response{
		Status:     "503 Service Unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type": {"text/plain; charset=utf-8"},
			"X-Cache":      {"miss"},
		},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
