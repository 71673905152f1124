package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
)

func TestProgressUI_Lines(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)

	p.OnStart(config.EffectiveConfig{WebRoot: "/srv/site", FeedPath: "/srv/site/data/games-free.json", Locale: "ko", Country: "KR", Concurrency: 4, Ratings: []string{"steam"}})
	p.OnPhaseDone("fetch", map[string]any{"provider": "epic", "games": 5, "live": 0}, 1200*time.Millisecond)
	p.OnItemDone(1, 2, domain.ItemResult{ID: "a", Title: "Alpha", Bucket: "current", Status: domain.ItemRated, Sources: []string{"metacritic", "steam"}}, time.Second)
	p.OnItemDone(2, 2, domain.ItemResult{ID: "b", Title: "Beta", Status: domain.ItemFailed, ErrorCode: domain.ErrCodeRatingFailed, ErrorMsg: "timeout"}, time.Second)
	p.OnPhaseDone("save", map[string]any{"current": 1, "upcoming": 1, "past": 3}, 0)

	out := buf.String()
	for _, want := range []string{
		"region: ko/KR",
		`ratings: ["steam"]`,
		"proxy: off",
		"抓取: provider=epic games=5 live=0 (1.2s)",
		"[1/2] Alpha OK bucket=current sources=metacritic,steam",
		"[2/2] Beta FAIL rating_failed: timeout",
		"保存: current=1 upcoming=1 past=3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if p.tickerStarted {
		t.Fatalf("没有待处理条目时不应启动 keepalive")
	}
}

func TestProgressUI_KeepaliveStopsWhenDone(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf)
	p.OnPhaseDone("fetch", map[string]any{"live": 1}, 0)
	if !p.tickerStarted {
		t.Fatalf("有待处理条目时应启动 keepalive")
	}
	p.OnItemDone(1, 1, domain.ItemResult{ID: "a", Status: domain.ItemUnrated}, 0)
	if p.tickerStarted {
		t.Fatalf("最后一条完成后应停止 keepalive")
	}
	// enrich 阶段结束时重复停止也安全。
	p.OnPhaseDone("enrich", map[string]any{"workers": 1, "games": 1}, 0)
}

func TestFormatHelpers(t *testing.T) {
	if got := formatProxy("http://user:pw@127.0.0.1:7890"); got != "on (http://127.0.0.1:7890, auth=on)" {
		t.Fatalf("代理展示不正确：%q", got)
	}
	if got := formatElapsed(3725 * time.Second); got != "01:02:05" {
		t.Fatalf("耗时格式不正确：%q", got)
	}
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Fatalf("截断不正确：%q", got)
	}
	if got := formatStringListJSON(nil); got != "[]" {
		t.Fatalf("空列表应输出 []：%q", got)
	}
}
