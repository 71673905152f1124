package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/infra/cache"
)

func envOf(m map[string]string) Env {
	return func(k string) string { return m[k] }
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "missing.json"}, nil)
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_MissingWebRoot(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{"locale":"en"}`))

	_, err := LoadEffective(cwd, CLIArgs{RequireWebRoot: true}, nil)
	if Code(err) != ErrCodeMissingWebRoot {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingWebRoot, err, Code(err))
	}

	// serve 配了 origin 时可以没有 web_root。
	eff, err := LoadEffective(cwd, CLIArgs{Origin: "https://free.example.com/"}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Origin != "https://free.example.com" || eff.FeedPath != "" {
		t.Fatalf("origin 模式配置不正确：%+v", eff)
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{WebRoot: "web", RequireWebRoot: true}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != "" {
		t.Fatalf("未读取配置文件时 ConfigPath 应为空：%q", eff.ConfigPath)
	}
	if eff.WebRoot != filepath.Join(cwd, "web") {
		t.Fatalf("web_root 不正确：%q", eff.WebRoot)
	}
	if eff.FeedPath != filepath.Join(cwd, "web", "data", "games-free.json") {
		t.Fatalf("feed 路径不正确：%q", eff.FeedPath)
	}
	if eff.Locale != DefaultLocale || eff.Country != DefaultCountry || eff.Concurrency != DefaultConcurrency {
		t.Fatalf("默认值不正确：%+v", eff)
	}
	if eff.Listen != DefaultListen || eff.CacheName != DefaultCacheName || eff.Cache.Backend != cache.BackendMemory {
		t.Fatalf("默认值不正确：%+v", eff)
	}
	if eff.LogLevel != zerolog.InfoLevel {
		t.Fatalf("默认日志级别应为 info：%v", eff.LogLevel)
	}
	if len(eff.Ratings) != 1 || eff.Ratings[0] != "steam" {
		t.Fatalf("默认评分 provider 不正确：%v", eff.Ratings)
	}
	if len(eff.RatingSources) != len(domain.RatingSources) {
		t.Fatalf("默认徽章来源应为全部：%v", eff.RatingSources)
	}
	if len(eff.Precache) == 0 || eff.Precache[0] != "/" {
		t.Fatalf("默认预缓存清单不正确：%v", eff.Precache)
	}
}

func TestLoadEffective_PathsRelativeToConfigDir(t *testing.T) {
	cwd := t.TempDir()
	cfgDir := filepath.Join(cwd, "conf")
	writeFile(t, filepath.Join(cfgDir, "site.json"), []byte(`{
		"web_root": "../public",
		"cache": {"backend": "disk", "dir": "cache"},
		"log": {"level": "debug", "file": "logs/epicfree.log"}
	}`))

	eff, err := LoadEffective(cwd, CLIArgs{ConfigPath: "conf/site.json", RequireWebRoot: true}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.WebRoot != filepath.Join(cwd, "public") {
		t.Fatalf("web_root 应相对配置文件目录：%q", eff.WebRoot)
	}
	if eff.Cache.Dir != filepath.Join(cfgDir, "cache") {
		t.Fatalf("cache.dir 应相对配置文件目录：%q", eff.Cache.Dir)
	}
	if eff.LogFile != filepath.Join(cfgDir, "logs", "epicfree.log") {
		t.Fatalf("log.file 应相对配置文件目录：%q", eff.LogFile)
	}
	if eff.LogLevel != zerolog.DebugLevel {
		t.Fatalf("日志级别不正确：%v", eff.LogLevel)
	}
}

func TestLoadEffective_Precedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{
		"web_root": "from-file",
		"listen": ":9000",
		"proxy": {"url": "http://file-proxy:3128"},
		"concurrency": 8,
		"show_ended": true
	}`))
	env := envOf(map[string]string{
		EnvWebRoot:  "from-env",
		EnvListen:   ":9100",
		EnvProxyURL: "http://env-proxy:3128",
	})

	// env 覆盖配置文件。
	eff, err := LoadEffective(cwd, CLIArgs{}, env)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.WebRoot != filepath.Join(cwd, "from-env") || eff.Listen != ":9100" || eff.ProxyURL != "http://env-proxy:3128" {
		t.Fatalf("env 应覆盖配置文件：%+v", eff)
	}
	if eff.Concurrency != 8 || !eff.ShowEnded {
		t.Fatalf("配置文件值应生效：%+v", eff)
	}

	// CLI 覆盖 env 与配置文件。
	eff, err = LoadEffective(cwd, CLIArgs{
		WebRoot:        "from-cli",
		Listen:         "127.0.0.1:7000",
		Concurrency:    2,
		ConcurrencySet: true,
		ShowEnded:      false,
		ShowEndedSet:   true,
	}, env)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.WebRoot != filepath.Join(cwd, "from-cli") || eff.Listen != "127.0.0.1:7000" {
		t.Fatalf("CLI 应覆盖 env：%+v", eff)
	}
	if eff.Concurrency != 2 || eff.ShowEnded {
		t.Fatalf("CLI 显式值应覆盖配置文件：%+v", eff)
	}
}

func TestLoadEffective_ConcurrencyClamp(t *testing.T) {
	cwd := t.TempDir()
	for _, c := range []struct{ in, want int }{{-3, 1}, {100, 32}, {5, 5}} {
		eff, err := LoadEffective(cwd, CLIArgs{WebRoot: "w", Concurrency: c.in, ConcurrencySet: true}, nil)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if eff.Concurrency != c.want {
			t.Fatalf("concurrency=%d 期望截断为 %d，实际=%d", c.in, c.want, eff.Concurrency)
		}
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"json", `{"web_root":`},
		{"proxy", `{"web_root":"w","proxy":{"url":"not a url"}}`},
		{"proxy_scheme", `{"web_root":"w","proxy":{"url":"ftp://proxy:21"}}`},
		{"origin", `{"web_root":"w","origin":"javascript:alert(1)"}`},
		{"country", `{"web_root":"w","country":"KOR"}`},
		{"listen", `{"web_root":"w","listen":"localhost"}`},
		{"listen_port", `{"web_root":"w","listen":":99999"}`},
		{"cache_backend", `{"web_root":"w","cache":{"backend":"s3"}}`},
		{"cache_name", `{"web_root":"w","cache":{"name":"../v1"}}`},
		{"redis_missing_url", `{"web_root":"w","cache":{"backend":"redis"}}`},
		{"redis_scheme", `{"web_root":"w","cache":{"backend":"redis","redis_url":"http://x:6379"}}`},
		{"log_level", `{"web_root":"w","log":{"level":"loud"}}`},
		{"rating_sources", `{"web_root":"w","rating_sources":["imdb"]}`},
		{"precache", `{"web_root":"w","precache":["css/style.css"]}`},
		{"cors", `{"web_root":"w","cors_origins":["not a url"]}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, FileName), []byte(c.body))
			_, err := LoadEffective(cwd, CLIArgs{}, nil)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_WebRootIsFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "file"), []byte("x"))

	_, err := LoadEffective(cwd, CLIArgs{WebRoot: "file"}, nil)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_RatingSourcesOrderAndCache(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`{
		"web_root": "w",
		"rating_sources": ["Epic", "steam", "epic"],
		"ratings": ["Steam", "", "steam"],
		"cache": {"name": "epicfree-v2", "backend": "REDIS", "redis_url": "redis://file:6379/0"}
	}`))

	eff, err := LoadEffective(cwd, CLIArgs{}, envOf(map[string]string{EnvRedisURL: "redis://env:6379/1"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(eff.RatingSources) != 2 || eff.RatingSources[0] != domain.SourceEpic || eff.RatingSources[1] != domain.SourceSteam {
		t.Fatalf("徽章来源应保序去重：%v", eff.RatingSources)
	}
	if len(eff.Ratings) != 1 || eff.Ratings[0] != "steam" {
		t.Fatalf("评分 provider 应规范化去重：%v", eff.Ratings)
	}
	if eff.CacheName != "epicfree-v2" || eff.Cache.Backend != cache.BackendRedis || eff.Cache.RedisURL != "redis://env:6379/1" {
		t.Fatalf("缓存配置不正确：%+v %+v", eff.CacheName, eff.Cache)
	}
}

func TestEnvWithDotEnv(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, DotEnvName), []byte("EPICFREE_ORIGIN=https://dotenv.example.com\nEPICFREE_LOG_LEVEL=warn\n"))

	process := map[string]string{EnvLogLevel: "error"}
	env, err := EnvWithDotEnv(cwd, func(k string) (string, bool) {
		v, ok := process[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if env(EnvOrigin) != "https://dotenv.example.com" {
		t.Fatalf(".env 值应可读：%q", env(EnvOrigin))
	}
	if env(EnvLogLevel) != "error" {
		t.Fatalf("进程环境应优先于 .env：%q", env(EnvLogLevel))
	}

	// .env 不存在不是错误。
	env, err = EnvWithDotEnv(t.TempDir(), nil)
	if err != nil || env(EnvOrigin) != "" {
		t.Fatalf("缺失 .env 应返回空查找：%v", err)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
}
