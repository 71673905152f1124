package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/infra/cache"
)

const (
	// FileName 是默认配置文件名（位于 cwd）。
	FileName = "epicfree.json"
	// DotEnvName 是可选的环境变量文件（位于 cwd）。
	DotEnvName = ".env"

	// FeedRelPath 是 feed 相对 web_root 的固定位置（也是缓存 worker 的规范 key）。
	FeedRelPath = "data/games-free.json"
)

const (
	ErrCodeNotFound       = domain.ErrCodeConfigNotFound
	ErrCodeInvalid        = domain.ErrCodeConfigInvalid
	ErrCodeMissingWebRoot = domain.ErrCodeConfigMissingRoot
)

const (
	DefaultLocale      = "ko"
	DefaultCountry     = "KR"
	DefaultConcurrency = 4
	DefaultListen      = ":8080"
	DefaultCacheName   = "epicfree-v1"
	DefaultLogLevel    = "info"
)

// 环境变量（.env 中同名键等价）。优先级：CLI > 环境变量 > 配置文件 > 默认值。
const (
	EnvWebRoot   = "EPICFREE_WEB_ROOT"
	EnvOrigin    = "EPICFREE_ORIGIN"
	EnvListen    = "EPICFREE_LISTEN"
	EnvProxyURL  = "EPICFREE_PROXY_URL"
	EnvRedisURL  = "EPICFREE_REDIS_URL"
	EnvLogLevel  = "EPICFREE_LOG_LEVEL"
	EnvMirrorURL = "EPICFREE_MIRROR_URL"
)

// CLIArgs 是 CLI 暴露的入口，保留“是否显式指定”的信息，保证覆盖优先级可实现。
type CLIArgs struct {
	ConfigPath string // --config；显式指定时文件必须存在

	WebRoot string
	Origin  string
	Listen  string

	Concurrency    int
	ConcurrencySet bool

	ShowEnded    bool
	ShowEndedSet bool

	// RequireWebRoot 由命令决定：collect/render 必须有 web_root；serve 配了 origin 时可以没有。
	RequireWebRoot bool
}

// FileConfig 对应 epicfree.json 的解析结构。
type FileConfig struct {
	WebRoot       string       `json:"web_root"`
	Locale        string       `json:"locale"`
	Country       string       `json:"country"`
	Concurrency   int          `json:"concurrency"`
	Proxy         *ProxyConfig `json:"proxy"`
	MirrorURL     string       `json:"mirror_url"`
	Ratings       []string     `json:"ratings"`
	RatingSources []string     `json:"rating_sources"`
	ShowEnded     *bool        `json:"show_ended"`
	Listen        string       `json:"listen"`
	Origin        string       `json:"origin"`
	CORSOrigins   []string     `json:"cors_origins"`
	Precache      []string     `json:"precache"`
	Cache         *CacheConfig `json:"cache"`
	Log           *LogConfig   `json:"log"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

type CacheConfig struct {
	Name     string `json:"name"`
	Backend  string `json:"backend"`
	Dir      string `json:"dir"`
	RedisURL string `json:"redis_url"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ConfigPath string // 实际读取到的配置文件；未读取时为空

	WebRoot  string // 绝对路径；serve+origin 时可以为空
	FeedPath string // <web_root>/data/games-free.json

	Locale      string
	Country     string
	Concurrency int
	ProxyURL    string
	MirrorURL   string
	Ratings     []string // 评分 provider 顺序（collect）

	RatingSources []domain.RatingSource // 徽章来源（render/serve）
	ShowEnded     bool

	Listen      string
	Origin      string
	CORSOrigins []string
	Precache    []string

	Cache cache.Options
	// CacheName 是缓存版本号；换名即整体失效。
	CacheName string

	LogLevel zerolog.Level
	LogFile  string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingWebRoot:
		return fmt.Sprintf("%s：缺少 web_root（配置文件 %q、%s 或 --web-root）", e.Code, e.Path, EnvWebRoot)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Env 是环境变量查找函数。
type Env func(key string) string

// EnvWithDotEnv 返回“进程环境优先、<cwd>/.env 兜底”的查找函数。
// .env 不存在不算错误；格式错误返回 config_invalid。
func EnvWithDotEnv(cwd string, lookup func(string) (string, bool)) (Env, error) {
	p := filepath.Join(cwd, DotEnvName)
	vals := map[string]string{}
	if _, err := os.Stat(p); err == nil {
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		vals = m
	}
	return func(key string) string {
		if lookup != nil {
			if v, ok := lookup(key); ok {
				return v
			}
		}
		return vals[key]
	}, nil
}

// LoadEffective 发现并读取配置文件，再与环境变量、CLI 参数合并为最终配置。
//
// 发现规则：
// 1) --config 显式给出：必须存在
// 2) 否则读取 <cwd>/epicfree.json（可选）
func LoadEffective(cwd string, cli CLIArgs, env Env) (EffectiveConfig, error) {
	if env == nil {
		env = func(string) string { return "" }
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	explicit := strings.TrimSpace(cli.ConfigPath) != ""
	if explicit {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists && explicit {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	// 相对路径以配置文件所在目录为基准；没有配置文件时以 cwd 为基准。
	base := cwdAbs
	eff := EffectiveConfig{}
	if exists {
		base = filepath.Dir(cfgPath)
		eff.ConfigPath = cfgPath
	}

	if err := merge(&eff, base, cwdAbs, cli, fc, env); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if eff.WebRoot == "" && (cli.RequireWebRoot || eff.Origin == "") {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingWebRoot, Path: cfgPath}
	}
	return eff, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func merge(eff *EffectiveConfig, base, cwd string, cli CLIArgs, fc FileConfig, env Env) error {
	// web_root：CLI（相对 cwd）> env（相对 cwd）> config（相对配置文件目录）
	switch {
	case strings.TrimSpace(cli.WebRoot) != "":
		eff.WebRoot = absCleanFrom(cwd, cli.WebRoot)
	case strings.TrimSpace(env(EnvWebRoot)) != "":
		eff.WebRoot = absCleanFrom(cwd, env(EnvWebRoot))
	case strings.TrimSpace(fc.WebRoot) != "":
		eff.WebRoot = absCleanFrom(base, fc.WebRoot)
	}
	if eff.WebRoot != "" {
		if fi, err := os.Stat(eff.WebRoot); err == nil && !fi.IsDir() {
			return fmt.Errorf("web_root 不是目录：%q", eff.WebRoot)
		}
		eff.FeedPath = filepath.Join(eff.WebRoot, filepath.FromSlash(FeedRelPath))
	}

	eff.Locale = pick(fc.Locale, DefaultLocale)
	eff.Country = strings.ToUpper(pick(fc.Country, DefaultCountry))
	if !govalidator.IsISO3166Alpha2(eff.Country) {
		return fmt.Errorf("country 必须是 ISO 3166 两位代码：%q", eff.Country)
	}

	// concurrency：CLI > config > 默认；范围 [1, 32]，超出截断。
	c := fc.Concurrency
	if cli.ConcurrencySet {
		c = cli.Concurrency
	}
	if c == 0 {
		c = DefaultConcurrency
	}
	if c < 1 {
		c = 1
	}
	if c > 32 {
		c = 32
	}
	eff.Concurrency = c

	proxy := ""
	if fc.Proxy != nil {
		proxy = fc.Proxy.URL
	}
	eff.ProxyURL = pick(env(EnvProxyURL), proxy)
	if eff.ProxyURL != "" {
		if err := validateHTTPURL("proxy.url", eff.ProxyURL); err != nil {
			return err
		}
	}

	eff.MirrorURL = pick(env(EnvMirrorURL), fc.MirrorURL)
	if eff.MirrorURL != "" {
		if err := validateHTTPURL("mirror_url", eff.MirrorURL); err != nil {
			return err
		}
	}

	eff.Ratings = normList(fc.Ratings)
	if len(eff.Ratings) == 0 {
		eff.Ratings = []string{"steam"}
	}

	srcs, err := parseRatingSources(fc.RatingSources)
	if err != nil {
		return err
	}
	eff.RatingSources = srcs

	if cli.ShowEndedSet {
		eff.ShowEnded = cli.ShowEnded
	} else if fc.ShowEnded != nil {
		eff.ShowEnded = *fc.ShowEnded
	}

	eff.Listen = pick(cli.Listen, env(EnvListen), fc.Listen, DefaultListen)
	if err := validateListen(eff.Listen); err != nil {
		return err
	}

	eff.Origin = strings.TrimRight(pick(cli.Origin, env(EnvOrigin), fc.Origin), "/")
	if eff.Origin != "" {
		if err := validateHTTPURL("origin", eff.Origin); err != nil {
			return err
		}
	}

	for _, o := range fc.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o != "*" {
			if err := validateHTTPURL("cors_origins", o); err != nil {
				return err
			}
		}
		eff.CORSOrigins = append(eff.CORSOrigins, o)
	}

	eff.Precache = DefaultPrecache()
	if len(fc.Precache) > 0 {
		eff.Precache = eff.Precache[:0]
		for _, p := range fc.Precache {
			p = strings.TrimSpace(p)
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("precache 路径必须以 / 开头：%q", p)
			}
			eff.Precache = append(eff.Precache, p)
		}
	}

	cc := CacheConfig{}
	if fc.Cache != nil {
		cc = *fc.Cache
	}
	eff.CacheName = pick(cc.Name, DefaultCacheName)
	if err := cache.ValidateName(eff.CacheName); err != nil {
		return err
	}
	eff.Cache = cache.Options{
		Backend:  strings.ToLower(pick(cc.Backend, cache.BackendMemory)),
		RedisURL: pick(env(EnvRedisURL), cc.RedisURL),
	}
	switch eff.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendDisk:
		dir := pick(cc.Dir, filepath.Join(".epicfree", "cache"))
		eff.Cache.Dir = absCleanFrom(base, dir)
	case cache.BackendRedis:
		if eff.Cache.RedisURL == "" {
			return fmt.Errorf("cache.backend=redis 但 cache.redis_url 为空")
		}
		u, err := url.Parse(eff.Cache.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("cache.redis_url 必须是 redis:// 或 rediss://：%q", eff.Cache.RedisURL)
		}
	default:
		return fmt.Errorf("cache.backend 只能是 memory/disk/redis，实际是 %q", cc.Backend)
	}

	lc := LogConfig{}
	if fc.Log != nil {
		lc = *fc.Log
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(pick(env(EnvLogLevel), lc.Level, DefaultLogLevel)))
	if err != nil {
		return fmt.Errorf("log.level 无效：%w", err)
	}
	eff.LogLevel = lvl
	if strings.TrimSpace(lc.File) != "" {
		eff.LogFile = absCleanFrom(base, lc.File)
	}
	return nil
}

// DefaultPrecache 是安装阶段预取的静态清单。
func DefaultPrecache() []string {
	return []string{
		"/",
		"/css/style.css",
		"/js/app.js",
		"/" + FeedRelPath,
		"/manifest.json",
		"/icons/icon-192.png",
		"/icons/icon-512.png",
	}
}

func parseRatingSources(keys []string) ([]domain.RatingSource, error) {
	if len(keys) == 0 {
		return append([]domain.RatingSource(nil), domain.RatingSources...), nil
	}
	byKey := make(map[string]domain.RatingSource, len(domain.RatingSources))
	for _, s := range domain.RatingSources {
		byKey[s.Config().Key] = s
	}
	out := make([]domain.RatingSource, 0, len(keys))
	seen := map[domain.RatingSource]bool{}
	for _, k := range keys {
		s, ok := byKey[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			return nil, fmt.Errorf("rating_sources 含未知来源：%q", k)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func validateHTTPURL(field, raw string) error {
	if !govalidator.IsRequestURL(raw) {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

func validateListen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen 无效：%w", err)
	}
	if !govalidator.IsPort(port) {
		return fmt.Errorf("listen 端口无效：%q", port)
	}
	if host != "" && !govalidator.IsHost(host) {
		return fmt.Errorf("listen 主机无效：%q", host)
	}
	return nil
}

func normList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件；exists 表示文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
