package render

import (
	"strings"

	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/feed"
)

// 页面元素 id（前端脚本按这些 id 读写）。
const (
	IDGrid                 = "games-grid"
	IDLoading              = "loading"
	IDEmptyState           = "empty-state"
	IDUpdateTime           = "update-time"
	IDSearchInput          = "search-input"
	IDSearchClear          = "search-clear"
	IDThemeToggle          = "theme-toggle"
	IDEndedToggle          = "ended-toggle"
	IDEndedToggleContainer = "ended-toggle-container"
)

const (
	EmptyEndedHidden = "No free games match. Turn on \"Show ended games\" to see past promotions."
	EmptyNoGames     = "No games found."
	LoadErrorTitle   = "Failed to load games."
	LoadErrorHint    = "Please reload the page to try again."
)

// View 是一次网格渲染的全部输入。
type View struct {
	Games  []domain.Game // 已打标去重
	Query  feed.Query
	Err    error
	Loaded bool
}

// GridResult 描述网格渲染结果。
type GridResult struct {
	HTML  string
	Count int
	Empty bool
}

type gridData struct {
	Failed   bool
	ErrTitle string
	ErrHint  string
	Cards    []cardData
	EmptyMsg string
}

type pageData struct {
	CountdownWS  string
	Search       string
	ClearHref    string
	IncludeEnded bool
	Updated      string
	Loaded       bool
	Grid         gridData
}

func grid(v View, opt Options) gridData {
	if v.Err != nil {
		return gridData{Failed: true, ErrTitle: LoadErrorTitle, ErrHint: LoadErrorHint}
	}
	games := feed.SortGames(feed.Filter(v.Games, v.Query))
	d := gridData{Cards: make([]cardData, 0, len(games))}
	for _, g := range games {
		d.Cards = append(d.Cards, card(g, opt))
	}
	if len(games) == 0 && v.Loaded {
		d.EmptyMsg = EmptyNoGames
		if !v.Query.IncludeEnded {
			d.EmptyMsg = EmptyEndedHidden
		}
	}
	return d
}

// Grid 是 (games, query, now, err) 的纯函数：过滤、排序、整体重建网格。
//
// - 加载失败：网格替换为错误块
// - 结果为空：网格为空并显示空状态提示（文案取决于是否排除已结束条目）
func Grid(v View, opt Options) GridResult {
	d := grid(v, opt)
	return GridResult{HTML: execute("grid", d), Count: len(d.Cards), Empty: len(d.Cards) == 0}
}

// PageData 是整页渲染输入。
type PageData struct {
	View
	Updated string
	// CountdownWS 非空时写到 body 上，前端脚本据此连接倒计时推送。
	CountdownWS string
}

// Page 渲染完整页面：标题栏、搜索、已结束开关、更新时间与网格。
// 主题开关只有按钮，持久化由前端自行处理。
func Page(p PageData, opt Options) string {
	clearHref := "/"
	if p.Query.IncludeEnded {
		clearHref = "/?ended=1"
	}
	return execute("page", pageData{
		CountdownWS:  p.CountdownWS,
		Search:       strings.TrimSpace(p.Query.Search),
		ClearHref:    clearHref,
		IncludeEnded: p.Query.IncludeEnded,
		Updated:      FormatUpdated(p.Updated),
		Loaded:       p.Loaded,
		Grid:         grid(p.View, opt),
	})
}
