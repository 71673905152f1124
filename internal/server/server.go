package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/cacheworker"
	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/feed"
	"github.com/John-Robertt/epicfree/internal/infra/cache"
	"github.com/John-Robertt/epicfree/internal/infra/httpx"
	"github.com/John-Robertt/epicfree/internal/render"
)

// localBaseURL 是本地 web_root 模式下缓存 worker 使用的虚拟源站地址。
const localBaseURL = "http://webroot.local"

// Server 把缓存 worker、feed 看板和页面渲染组合成一个 http.Handler。
type Server struct {
	Worker  *cacheworker.Worker
	Board   *feed.Board
	Clock   clockwork.Clock
	Log     zerolog.Logger
	Sources []domain.RatingSource
	// ShowEnded 是“显示已结束”开关的默认值（URL 未带 ended 参数时）。
	ShowEnded bool
	// TickPeriod 是 websocket 倒计时周期；0 表示默认 1s。
	TickPeriod  time.Duration
	CORSOrigins []string

	base     *url.URL
	upgrader websocket.Upgrader
}

// Options 是 New 的输入。
type Options struct {
	Worker      *cacheworker.Worker
	Board       *feed.Board
	Clock       clockwork.Clock
	Log         zerolog.Logger
	Sources     []domain.RatingSource
	ShowEnded   bool
	TickPeriod  time.Duration
	CORSOrigins []string
}

func New(opt Options) *Server {
	clock := opt.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		Worker:      opt.Worker,
		Board:       opt.Board,
		Clock:       clock,
		Log:         opt.Log,
		Sources:     opt.Sources,
		ShowEnded:   opt.ShowEnded,
		TickPeriod:  opt.TickPeriod,
		CORSOrigins: opt.CORSOrigins,
		base:        opt.Worker.BaseURL,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler 返回完整路由：
// - GET / ：实时渲染页面
// - GET /ws/countdown ：倒计时推送
// - GET /healthz
// - 其他：经缓存 worker 访问源站
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws/countdown", s.handleCountdown)
	mux.HandleFunc("/", s.handleRoot)

	if len(s.CORSOrigins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" || r.URL.Path == "/index.html" {
		s.handlePage(w, r)
		return
	}
	s.proxy().ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Board.State()
	w.Header().Set("Content-Type", "application/json")
	if st.Err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, `{"ok":false,"worker_active":%t,"games":0}`+"\n", s.Worker.Active())
		return
	}
	_, _ = fmt.Fprintf(w, `{"ok":true,"worker_active":%t,"games":%d}`+"\n", s.Worker.Active(), len(st.Games))
}

// Query 从 URL 读取两个 UI 开关：q（搜索）与 ended（1/true/on）。
func (s *Server) Query(r *http.Request) feed.Query {
	v := r.URL.Query()
	q := feed.Query{Search: strings.TrimSpace(v.Get("q")), IncludeEnded: s.ShowEnded}
	if raw, ok := v["ended"]; ok && len(raw) > 0 {
		switch strings.ToLower(raw[len(raw)-1]) {
		case "1", "true", "on", "yes":
			q.IncludeEnded = true
		default:
			q.IncludeEnded = false
		}
	}
	return q
}

func (s *Server) view(st feed.State, q feed.Query) render.View {
	return render.View{Games: st.Games, Query: q, Err: st.Err, Loaded: st.Loaded}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.Board.State()
	q := s.Query(r)
	page := render.Page(render.PageData{
		View:        s.view(st, q),
		Updated:     st.Updated,
		CountdownWS: "/ws/countdown",
	}, render.Options{Now: s.Clock.Now(), Sources: s.Sources})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(page))
}

func (s *Server) proxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.base)
			pr.Out.Host = s.base.Host
		},
		Transport: s.Worker,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.Log.Warn().Str("path", r.URL.Path).Err(err).Msg("源站请求失败")
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		},
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

// Build 按配置组装 serve 所需的全部部件：缓存存储、worker（已安装并激活）、看板（已首次加载）。
// 返回的 cleanup 负责等待后台缓存写入并关闭存储。
func Build(ctx context.Context, eff config.EffectiveConfig, clock clockwork.Clock, log zerolog.Logger) (*Server, func(), error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store, err := cache.New(eff.Cache)
	if err != nil {
		return nil, nil, err
	}

	baseURL := eff.Origin
	var network http.RoundTripper
	if baseURL != "" {
		tr, err := httpx.NewOriginTransport(eff.ProxyURL)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("proxy.url 无效：%w", err)
		}
		network = tr
	} else {
		baseURL = localBaseURL
		network = http.NewFileTransport(http.Dir(eff.WebRoot))
	}

	feedPath := "/" + path.Clean(config.FeedRelPath)
	worker, err := cacheworker.New(cacheworker.Options{
		Name:     eff.CacheName,
		Precache: eff.Precache,
		Routes:   cacheworker.DefaultRoutes(feedPath),
		BaseURL:  baseURL,
		Network:  network,
		Store:    store,
		Clock:    clock,
		Log:      log.With().Str("component", "cacheworker").Logger(),
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if _, err := worker.Install(ctx); err != nil {
		// 存储不可用：worker 保持透传。
		log.Error().Err(err).Msg("缓存 worker 安装失败，按纯透传运行")
	} else if _, err := worker.Activate(ctx); err != nil && !errors.Is(err, cacheworker.ErrNotInstalled) {
		log.Error().Err(err).Msg("缓存 worker 激活失败")
	}

	board := feed.NewBoard(feed.Loader{
		URL:    worker.BaseURL.String() + strings.TrimPrefix(feedPath, "/"),
		Client: &http.Client{Transport: worker, Timeout: 30 * time.Second},
	}, clock, log.With().Str("component", "board").Logger())
	_, _ = board.Load(ctx)

	s := New(Options{
		Worker:      worker,
		Board:       board,
		Clock:       clock,
		Log:         log,
		Sources:     eff.RatingSources,
		ShowEnded:   eff.ShowEnded,
		CORSOrigins: eff.CORSOrigins,
	})
	cleanup := func() {
		worker.Settle()
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭缓存存储失败")
		}
	}
	return s, cleanup, nil
}
