package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
)

func testEnv(cwd string) (env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return env{
		cwd:    cwd,
		getenv: func(string) string { return "" },
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func TestParseArgs(t *testing.T) {
	ca, err := parseArgs("serve", []string{"--web-root", "site", "--origin=https://a.example", "--show-ended", "--listen", ":9000"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ca.WebRoot != "site" || ca.Origin != "https://a.example" || ca.Listen != ":9000" || !ca.ShowEnded || !ca.ShowEndedSet {
		t.Fatalf("解析结果不正确：%+v", ca)
	}

	ca, err = parseArgs("render", []string{"--show-ended=false"})
	if err != nil || ca.ShowEnded || !ca.ShowEndedSet {
		t.Fatalf("--show-ended=false 应显式关闭：%+v %v", ca, err)
	}

	ca, err = parseArgs("collect", []string{"--concurrency", "8"})
	if err != nil || ca.Concurrency != 8 || !ca.ConcurrencySet {
		t.Fatalf("--concurrency 解析不正确：%+v %v", ca, err)
	}

	bad := []struct {
		cmd  string
		args []string
	}{
		{"collect", []string{"--origin", "https://a"}},
		{"collect", []string{"--concurrency", "0"}},
		{"collect", []string{"--concurrency"}},
		{"render", []string{"--show-ended=maybe"}},
		{"render", []string{"extra"}},
		{"serve", []string{"--listen="}},
	}
	for _, c := range bad {
		if _, err := parseArgs(c.cmd, c.args); err == nil {
			t.Fatalf("%s %v 应报错", c.cmd, c.args)
		}
	}
}

func writeFeed(t *testing.T, root string, f domain.Feed) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(config.FeedRelPath))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("序列化失败：%v", err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("写 feed 失败：%v", err)
	}
}

func TestRunRender_WritesIndex(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	root := t.TempDir()
	writeFeed(t, root, domain.Feed{
		Updated: "2025-03-10T00:00:00Z",
		CurrentFree: []domain.Game{{
			ID: "a", Title: "Alpha",
			FreePeriod: domain.FreePeriod{Start: now.Add(-time.Hour), End: now.Add(24 * time.Hour)},
		}},
		Past: []domain.Game{{
			ID: "b", Title: "Beta",
			FreePeriod: domain.FreePeriod{Start: now.AddDate(0, 0, -14), End: now.AddDate(0, 0, -7)},
		}},
	})

	e, _, stderr := testEnv(t.TempDir())
	if code := runRender(e, []string{"--web-root", root}, now); code != 0 {
		t.Fatalf("退出码应为 0，实际 %d：%s", code, stderr.String())
	}

	f, err := os.Open(filepath.Join(root, "index.html"))
	if err != nil {
		t.Fatalf("应写出 index.html：%v", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("解析页面失败：%v", err)
	}
	if n := doc.Find("article.game-card").Length(); n != 1 {
		t.Fatalf("默认只渲染未结束的条目，实际 %d", n)
	}
	if _, ok := doc.Find("body").Attr("data-countdown-ws"); ok {
		t.Fatalf("静态页面不应带 websocket 地址")
	}
	if !strings.Contains(stderr.String(), "完成：games=2") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
}

func TestRunRender_MissingFeedWritesErrorPage(t *testing.T) {
	root := t.TempDir()
	e, _, stderr := testEnv(t.TempDir())
	if code := runRender(e, []string{"--web-root", root}, time.Now()); code != 1 {
		t.Fatalf("feed 缺失时退出码应为 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), domain.ErrCodeLoadFailed) {
		t.Fatalf("stderr 应包含 load_failed：%q", stderr.String())
	}
	f, err := os.Open(filepath.Join(root, "index.html"))
	if err != nil {
		t.Fatalf("加载失败时也应写出页面：%v", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("解析页面失败：%v", err)
	}
	if doc.Find("#games-grid .error-message").Length() != 1 || doc.Find("article.game-card").Length() != 0 {
		t.Fatalf("加载失败页面应以错误块替换网格")
	}
}

func TestRunRender_InvalidFeedWritesErrorBlock(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, filepath.FromSlash(config.FeedRelPath))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(p, []byte(`{"currentFree":"oops"}`), 0o644); err != nil {
		t.Fatalf("写 feed 失败：%v", err)
	}

	e, _, stderr := testEnv(t.TempDir())
	if code := runRender(e, []string{"--web-root", root}, time.Now()); code != 1 {
		t.Fatalf("feed 无效时退出码应为 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), domain.ErrCodeLoadFailed) {
		t.Fatalf("stderr 应包含 load_failed：%q", stderr.String())
	}
	b, err := os.ReadFile(filepath.Join(root, "index.html"))
	if err != nil || !strings.Contains(string(b), "error-message") {
		t.Fatalf("应写出带错误块的页面：%v", err)
	}
}

func TestRunCollect_ConfigErrorIsSingleJSON(t *testing.T) {
	cwd := t.TempDir()
	e, stdout, stderr := testEnv(cwd)

	code := runCollect(context.Background(), e, []string{"--config", "nope.json"}, false)
	if code != 1 {
		t.Fatalf("配置错误退出码应为 1，实际 %d", code)
	}

	var rr domain.CollectReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 CollectReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeConfigNotFound || rr.Summary.Failed != 1 {
		t.Fatalf("报告内容不正确：%+v", rr)
	}
	if !strings.Contains(stderr.String(), "完成：fetched=0") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
}

func TestRunCollect_BadArgs(t *testing.T) {
	e, stdout, stderr := testEnv(t.TempDir())
	if code := runCollect(context.Background(), e, []string{"--bogus"}, false); code != 2 {
		t.Fatalf("参数错误退出码应为 2，实际 %d", code)
	}
	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "未知参数") {
		t.Fatalf("参数错误只应写 stderr：stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestConfigErrorCode(t *testing.T) {
	if got := configErrorCode(&config.Error{Code: config.ErrCodeMissingWebRoot}); got != domain.ErrCodeConfigMissingRoot {
		t.Fatalf("错误码映射不正确：%q", got)
	}
	if got := configErrorCode(os.ErrPermission); got != domain.ErrCodeConfigInvalid {
		t.Fatalf("未知错误应按 config_invalid 处理：%q", got)
	}
}

func TestNewLogger_JSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	eff := config.EffectiveConfig{LogFile: filepath.Join(t.TempDir(), "logs", "epicfree.log")}
	log, closeLog := newLogger(eff, &buf)
	log.Info().Str("k", "v").Msg("hello")
	closeLog()

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("非终端应输出 JSON：%v %q", err, buf.String())
	}
	if line["message"] != "hello" || line["k"] != "v" {
		t.Fatalf("日志字段不正确：%v", line)
	}
	b, err := os.ReadFile(eff.LogFile)
	if err != nil || !strings.Contains(string(b), `"hello"`) {
		t.Fatalf("日志文件应同样写入：%v %q", err, b)
	}
}
