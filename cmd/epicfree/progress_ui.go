package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/epicfree/internal/app/collect"
	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
)

var _ collect.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的采集进度输出。
//
// 约束：
// - 所有过程信息写到 stderr，不污染 stdout 的 JSON 输出
// - 事件驱动：collect 层只发事件，CLI 决定如何展示
// - keepalive：评分查询长时间无条目完成时定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.workers = eff.Concurrency

	fmt.Fprintf(p.w, "[%s] epicfree collect\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  web_root: %s\n", eff.WebRoot)
	fmt.Fprintf(p.w, "  region: %s/%s\n", eff.Locale, eff.Country)
	fmt.Fprintf(p.w, "  ratings: %s\n", formatStringListJSON(eff.Ratings))
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	if strings.TrimSpace(eff.MirrorURL) != "" {
		fmt.Fprintf(p.w, "  mirror: %s\n", truncate(eff.MirrorURL, 120))
	}
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  feed: %s\n", eff.FeedPath)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "fetch":
		fmt.Fprintf(p.w, "抓取: provider=%s games=%d live=%d (%s)\n",
			stringField(fields, "provider"), intField(fields, "games"), intField(fields, "live"), formatShortDuration(dur),
		)
		p.total = intField(fields, "live")
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "enrich":
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "评分: workers=%d games=%d ok=%d fail=%d (%s)\n",
			intField(fields, "workers"), intField(fields, "games"), p.ok, p.fail, formatShortDuration(dur),
		)
	case "save":
		fmt.Fprintf(p.w, "保存: current=%d upcoming=%d past=%d moved_to_past=%d revived=%d (%s)\n",
			intField(fields, "current"),
			intField(fields, "upcoming"),
			intField(fields, "past"),
			intField(fields, "moved_to_past"),
			intField(fields, "revived"),
			formatShortDuration(dur),
		)
	case "backfill":
		fmt.Fprintf(p.w, "回填: pending=%d backfilled=%d (%s)\n",
			intField(fields, "pending"), intField(fields, "backfilled"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	title := truncate(res.Title, 60)
	if title == "" {
		title = res.ID
	}
	switch res.Status {
	case domain.ItemFailed:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			idx, total, title, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.ItemUnrated:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s -- bucket=%s (%s)\n",
			idx, total, title, res.Bucket, formatShortDuration(dur),
		)
	default:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK bucket=%s sources=%s (%s)\n",
			idx, total, title, res.Bucket, strings.Join(res.Sources, ","), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail, active int, activeTitles []string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printProgressLocked(done, total, ok, fail, active, activeTitles, elapsed)
}

func (p *progressUI) printProgressLocked(done, total, ok, fail, active int, activeTitles []string, elapsed time.Duration) {
	line := fmt.Sprintf("进度: done=%d/%d ok=%d fail=%d active=%d elapsed=%s",
		done, total, ok, fail, active, formatElapsed(elapsed),
	)
	if len(activeTitles) > 0 {
		line += " (" + truncate(strings.Join(activeTitles, ", "), 80) + ")"
	}
	fmt.Fprintln(p.w, line)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					p.printProgressLocked(p.done, p.total, p.ok, p.fail, active, nil, time.Since(p.startedAt))
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	if s == "" {
		return "-"
	}
	return s
}
