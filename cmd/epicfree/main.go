package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/John-Robertt/epicfree/internal/app/collect"
	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/feed"
	"github.com/John-Robertt/epicfree/internal/infra/fsx"
	"github.com/John-Robertt/epicfree/internal/render"
	"github.com/John-Robertt/epicfree/internal/server"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	var code int
	switch args[0] {
	case "collect":
		code = collectCmd(args[1:])
	case "render":
		code = renderCmd(args[1:])
	case "serve":
		code = serveCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

// env 是一次命令执行的外部环境；测试里整体替换。
type env struct {
	cwd    string
	getenv config.Env
	stdout io.Writer
	stderr io.Writer
}

func processEnv() (env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return env{}, fmt.Errorf("读取当前目录失败：%w", err)
	}
	getenv, err := config.EnvWithDotEnv(cwd, os.LookupEnv)
	if err != nil {
		return env{}, err
	}
	return env{cwd: cwd, getenv: getenv, stdout: os.Stdout, stderr: os.Stderr}, nil
}

func collectCmd(args []string) int {
	if wantsHelp(args) {
		fmt.Fprint(os.Stdout, collectUsage)
		return 0
	}
	e, err := processEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runCollect(ctx, e, args, isTTY(os.Stdout))
}

func renderCmd(args []string) int {
	if wantsHelp(args) {
		fmt.Fprint(os.Stdout, renderUsage)
		return 0
	}
	e, err := processEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return runRender(e, args, time.Now())
}

func serveCmd(args []string) int {
	if wantsHelp(args) {
		fmt.Fprint(os.Stdout, serveUsage)
		return 0
	}
	e, err := processEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runServe(ctx, e, args)
}

// runCollect 抓取促销、补评分并写 feed。
// stdout 非 TTY 时只输出一个 CollectReport JSON；过程信息全部走 stderr。
func runCollect(ctx context.Context, e env, args []string, stdoutTTY bool) int {
	ca, err := parseArgs("collect", args)
	if err != nil {
		fmt.Fprintf(e.stderr, "参数错误：%v\n\n%s", err, collectUsage)
		return 2
	}
	ca.RequireWebRoot = true

	eff, err := config.LoadEffective(e.cwd, ca, e.getenv)
	if err != nil {
		emitReport(e, reportForConfigError(err), stdoutTTY)
		return 1
	}

	log, closeLog := newLogger(eff, e.stderr)
	defer closeLog()

	deps, err := collect.NewDeps(eff, log)
	if err != nil {
		emitReport(e, reportForConfigError(&config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigPath, Err: err}), stdoutTTY)
		return 1
	}

	var obs collect.Observer
	if w, interactive := pickProgressWriter(); interactive {
		obs = newProgressUI(w)
	}

	rr := collect.Execute(ctx, eff, deps, obs)
	emitReport(e, rr, stdoutTTY)
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

// runRender 读取本地 feed，按默认查询渲染静态首页 <web_root>/index.html。
// feed 读取或解析失败时不覆盖已有页面。
func runRender(e env, args []string, now time.Time) int {
	ca, err := parseArgs("render", args)
	if err != nil {
		fmt.Fprintf(e.stderr, "参数错误：%v\n\n%s", err, renderUsage)
		return 2
	}
	ca.RequireWebRoot = true

	eff, err := config.LoadEffective(e.cwd, ca, e.getenv)
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return 1
	}
	log, closeLog := newLogger(eff, e.stderr)
	defer closeLog()

	b, ok, err := fsx.ReadFileIfExists(eff.FeedPath)
	if err == nil && !ok {
		err = fmt.Errorf("feed 不存在：%s", eff.FeedPath)
	}
	var f domain.Feed
	if err == nil {
		f, err = feed.Decode(b)
	}
	loadErr := err
	if loadErr != nil {
		log.Error().Err(loadErr).Str("path", eff.FeedPath).Msg("加载 feed 失败")
		fmt.Fprintf(e.stderr, "%s：%v\n", domain.ErrCodeLoadFailed, loadErr)
	}

	// 加载失败也写出页面：网格替换为错误块，退出码仍为 1。
	games := feed.Tag(f)
	page := render.Page(render.PageData{
		View:    render.View{Games: games, Query: feed.Query{IncludeEnded: eff.ShowEnded}, Err: loadErr, Loaded: true},
		Updated: f.Updated,
	}, render.Options{Now: now, Sources: eff.RatingSources})

	if err := fsx.WriteFileAtomic(eff.WebRoot, "index.html", []byte(page)); err != nil {
		fmt.Fprintf(e.stderr, "%s：写入 index.html 失败：%v\n", domain.ErrCodeRenderFailed, err)
		return 1
	}
	out := filepath.Join(eff.WebRoot, "index.html")
	if loadErr != nil {
		log.Warn().Str("path", out).Msg("已写出加载失败页面")
		return 1
	}
	log.Info().Str("path", out).Int("games", len(games)).Msg("页面已渲染")
	fmt.Fprintf(e.stderr, "完成：games=%d out=%s\n", len(games), out)
	return 0
}

// runServe 组装缓存 worker、看板与 HTTP 服务，直到 ctx 结束。
func runServe(ctx context.Context, e env, args []string) int {
	ca, err := parseArgs("serve", args)
	if err != nil {
		fmt.Fprintf(e.stderr, "参数错误：%v\n\n%s", err, serveUsage)
		return 2
	}

	eff, err := config.LoadEffective(e.cwd, ca, e.getenv)
	if err != nil {
		fmt.Fprintln(e.stderr, err)
		return 1
	}
	log, closeLog := newLogger(eff, e.stderr)
	defer closeLog()

	s, cleanup, err := server.Build(ctx, eff, nil, log)
	if err != nil {
		log.Error().Err(err).Msg("初始化服务失败")
		return 1
	}
	defer cleanup()

	// 本地模式下 collect 会原子替换 feed 文件：看板随之刷新。
	if eff.Origin == "" {
		if _, err := server.WatchFeed(ctx, eff.FeedPath, s.Board, nil, log); err != nil {
			log.Warn().Err(err).Msg("无法监听 feed 文件，页面只在启动时加载一次")
		}
	}

	srv := &http.Server{
		Addr:              eff.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("listen", eff.Listen).Str("origin", originLabel(eff)).Msg("服务已启动")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("服务异常退出")
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("关闭服务超时")
	}
	log.Info().Msg("服务已停止")
	return 0
}

func originLabel(eff config.EffectiveConfig) string {
	if eff.Origin != "" {
		return eff.Origin
	}
	return "file://" + filepath.ToSlash(eff.WebRoot)
}

// 各命令接受的参数。
var commandFlags = map[string]map[string]bool{
	"collect": {"--config": true, "--web-root": true, "--concurrency": true},
	"render":  {"--config": true, "--web-root": true, "--show-ended": true},
	"serve":   {"--config": true, "--web-root": true, "--origin": true, "--listen": true, "--show-ended": true},
}

func parseArgs(cmd string, args []string) (config.CLIArgs, error) {
	allowed := commandFlags[cmd]
	ca := config.CLIArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			return config.CLIArgs{}, fmt.Errorf("多余的参数 %q", a)
		}
		name, value, hasValue := strings.Cut(a, "=")
		if !allowed[name] {
			return config.CLIArgs{}, fmt.Errorf("未知参数 %q", a)
		}

		// --show-ended 是开关：不带值即 true。
		if name == "--show-ended" {
			v := true
			if hasValue {
				b, err := strconv.ParseBool(value)
				if err != nil {
					return config.CLIArgs{}, fmt.Errorf("--show-ended 只能是 true 或 false，实际是 %q", value)
				}
				v = b
			}
			ca.ShowEnded, ca.ShowEndedSet = v, true
			continue
		}

		if !hasValue {
			if i+1 >= len(args) {
				return config.CLIArgs{}, fmt.Errorf("%s 需要一个值", name)
			}
			i++
			value = args[i]
		}
		if strings.TrimSpace(value) == "" {
			return config.CLIArgs{}, fmt.Errorf("%s 不能为空", name)
		}

		switch name {
		case "--config":
			ca.ConfigPath = value
		case "--web-root":
			ca.WebRoot = value
		case "--origin":
			ca.Origin = value
		case "--listen":
			ca.Listen = value
		case "--concurrency":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return config.CLIArgs{}, fmt.Errorf("--concurrency 必须是正整数，实际是 %q", value)
			}
			ca.Concurrency, ca.ConcurrencySet = n, true
		}
	}
	return ca, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if isHelp(a) {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  epicfree collect [--config file] [--web-root dir] [--concurrency n]
  epicfree render  [--config file] [--web-root dir] [--show-ended[=true|false]]
  epicfree serve   [--config file] [--web-root dir] [--origin url] [--listen addr] [--show-ended]

命令：
  collect  抓取 Epic 免费游戏并补充评分，写入 <web_root>/data/games-free.json
  render   用本地 feed 渲染静态首页 <web_root>/index.html
  serve    启动站点：缓存 worker + 实时渲染 + 倒计时推送

使用 "epicfree <命令> --help" 查看详细说明。
`)
}

const collectUsage = `用法：
  epicfree collect [--config file] [--web-root dir] [--concurrency n]

参数：
  --config       配置文件（默认读取当前目录的 epicfree.json，不存在则忽略）
  --web-root     站点根目录（feed 写入 <web_root>/data/games-free.json）
  --concurrency  评分查询并发数（1-32，默认 4）
  -h, --help     显示帮助
`

const renderUsage = `用法：
  epicfree render [--config file] [--web-root dir] [--show-ended[=true|false]]

参数：
  --config       配置文件
  --web-root     站点根目录
  --show-ended   默认显示已结束的促销
  -h, --help     显示帮助
`

const serveUsage = `用法：
  epicfree serve [--config file] [--web-root dir] [--origin url] [--listen addr] [--show-ended]

参数：
  --config       配置文件
  --web-root     本地站点根目录（未配置 origin 时必填）
  --origin       远端源站地址；配置后经缓存 worker 代理访问
  --listen       监听地址（默认 :8080）
  --show-ended   页面默认显示已结束的促销
  -h, --help     显示帮助
`

func emitReport(e env, rr domain.CollectReport, stdoutTTY bool) {
	summary := fmt.Sprintf("完成：fetched=%d current=%d upcoming=%d rated=%d unrated=%d backfilled=%d failed=%d\n",
		rr.Summary.Fetched, rr.Summary.Current, rr.Summary.Upcoming,
		rr.Summary.Rated, rr.Summary.Unrated, rr.Summary.Backfilled, rr.Summary.Failed,
	)
	if stdoutTTY {
		fmt.Fprint(e.stdout, summary)
		for _, it := range rr.Items {
			if it.Status != domain.ItemFailed {
				continue
			}
			key := it.Title
			if key == "" {
				key = "<" + it.ErrorCode + ">"
			}
			fmt.Fprintf(e.stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 CollectReport JSON。
	_ = json.NewEncoder(e.stdout).Encode(rr)
	fmt.Fprint(e.stderr, summary)
}

func reportForConfigError(err error) domain.CollectReport {
	now := time.Now().UTC()
	rr := domain.CollectReport{
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.ItemFailed,
			ErrorCode: configErrorCode(err),
			ErrorMsg:  err.Error(),
			Sources:   []string{},
		}},
	}
	rr.Finalize()
	return rr
}

// configErrorCode 取配置错误码；非配置错误按 config_invalid 处理。
func configErrorCode(err error) string {
	if c := config.Code(err); c != "" {
		return c
	}
	return domain.ErrCodeConfigInvalid
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	return nil, false
}
