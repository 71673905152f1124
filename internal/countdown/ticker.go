package countdown

import (
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"

	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/render"
)

// DefaultPeriod 是倒计时刷新周期。
const DefaultPeriod = time.Second

// Update 是一次 tick 中单个倒计时元素的新状态。
type Update struct {
	GameID  string    `json:"id"`
	Target  time.Time `json:"target"`
	Text    string    `json:"text"`
	Expired bool      `json:"expired"`
}

type control int

const (
	ctlPause control = iota
	ctlResume
)

// Ticker 持有一份渲染好的网格文档，按周期重新扫描倒计时标记并更新文本。
//
// 约束：
// - 每次 tick 都重新查询标记元素，不持有元素引用（网格可能被整体替换）
// - 到点的元素被替换为刷新提示，不会自动重新拉取 feed
// - Pause 停止计时；Resume 立即刷新一次再恢复计时；Stop 之后 Updates 被关闭
type Ticker struct {
	clock  clockwork.Clock
	period time.Duration

	mu  sync.Mutex
	doc *goquery.Document

	updates chan []Update
	ctl     chan control
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New 以 grid HTML 创建 Ticker；period<=0 时使用 DefaultPeriod。
func New(gridHTML string, clock clockwork.Clock, period time.Duration) (*Ticker, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(gridHTML))
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Ticker{
		clock:   clock,
		period:  period,
		doc:     doc,
		updates: make(chan []Update, 1),
		ctl:     make(chan control),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Updates 返回每次 tick 的更新批次（只保留最新一批）。Stop 后关闭。
func (t *Ticker) Updates() <-chan []Update { return t.updates }

// Start 启动计时 goroutine；重复调用无效果。
func (t *Ticker) Start() {
	t.startOnce.Do(func() { go t.loop() })
}

// Pause 对应页面不可见。
func (t *Ticker) Pause() { t.send(ctlPause) }

// Resume 对应页面重新可见：立即刷新一次。
func (t *Ticker) Resume() { t.send(ctlResume) }

func (t *Ticker) send(c control) {
	select {
	case t.ctl <- c:
	case <-t.done:
	}
}

// Stop 停止计时并等待 goroutine 退出；可重复调用。
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.startOnce.Do(func() {
		// 从未启动：直接收尾。
		close(t.done)
		close(t.updates)
	})
	<-t.done
}

func (t *Ticker) loop() {
	defer close(t.done)
	defer close(t.updates)

	tk := t.clock.NewTicker(t.period)
	tickC := tk.Chan()
	for {
		select {
		case <-t.stop:
			if tk != nil {
				tk.Stop()
			}
			return
		case c := <-t.ctl:
			switch c {
			case ctlPause:
				if tk != nil {
					tk.Stop()
					tk, tickC = nil, nil
				}
			case ctlResume:
				if tk == nil {
					t.emit(t.Tick())
					tk = t.clock.NewTicker(t.period)
					tickC = tk.Chan()
				}
			}
		case <-tickC:
			t.emit(t.Tick())
		}
	}
}

func (t *Ticker) emit(batch []Update) {
	if len(batch) == 0 {
		return
	}
	select {
	case <-t.updates:
	default:
	}
	select {
	case t.updates <- batch:
	default:
	}
}

// Tick 重新扫描一次标记元素并更新文本，返回本次的更新。
func (t *Ticker) Tick() []Update {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Update
	t.doc.Find(render.CountdownSelector).Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr(render.CountdownAttr)
		target := domain.ParseTimestamp(raw)
		id, _ := s.Closest("[data-id]").Attr("data-id")

		text, expired, ok := render.Countdown(target, now)
		switch {
		case !ok:
			s.RemoveAttr(render.CountdownAttr)
			s.AddClass("invalid")
			s.SetText(text)
		case expired:
			s.ReplaceWithHtml(render.CountdownEndedHTML)
		default:
			s.SetText(text)
		}
		out = append(out, Update{GameID: id, Target: target, Text: text, Expired: expired})
	})
	return out
}

// HTML 返回当前网格（包含已到点替换）。
func (t *Ticker) HTML() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc.Find("body").Html()
}
