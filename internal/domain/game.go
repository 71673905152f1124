package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status 是条目的展示状态（三选一）。
//
// 约束：Status 只在加载时由来源桶（currentFree/upcoming/past）决定，
// 消费端不会根据时间戳重新计算。
type Status int

const (
	StatusUnknown Status = iota
	StatusCurrent
	StatusUpcoming
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusUpcoming:
		return "upcoming"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// FreePeriod 是免费领取窗口。零值时间表示“缺失或无法解析”。
type FreePeriod struct {
	Start time.Time
	End   time.Time
}

// Valid 要求两端都存在且 start < end（与采集端的校验一致）。
func (p FreePeriod) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.Before(p.End)
}

// ActiveAt 判断 now 是否落在 [start, end] 内（两端闭区间）。
func (p FreePeriod) ActiveAt(now time.Time) bool {
	if !p.Valid() {
		return false
	}
	return !now.Before(p.Start) && !now.After(p.End)
}

// UpcomingAt 判断窗口是否尚未开始。
func (p FreePeriod) UpcomingAt(now time.Time) bool {
	if !p.Valid() {
		return false
	}
	return now.Before(p.Start)
}

// Genre 是一个类型标签。feed 中既可能是字符串，也可能是 {id,name} 记录。
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (g *Genre) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = Genre{Name: s}
		return nil
	}
	type alias Genre
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*g = Genre(a)
	return nil
}

// Game 是一条免费游戏促销（feed 中的 GameEntry）。
//
// Title/Thumbnail/EpicURL/Genres 均来自外部数据，渲染前必须经过转义/URL 校验。
type Game struct {
	ID         string
	Slug       string
	Namespace  string // Epic sandboxId
	Title      string
	Thumbnail  string
	EpicURL    string
	FreePeriod FreePeriod
	Genres     []Genre
	Rating     *Rating

	// Status 不参与序列化：由加载方按来源桶打标。
	Status Status
}

type periodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type gameJSON struct {
	ID         string      `json:"id"`
	Slug       string      `json:"slug"`
	Namespace  string      `json:"namespace"`
	Title      string      `json:"title"`
	Thumbnail  string      `json:"thumbnail"`
	EpicURL    string      `json:"epicUrl"`
	FreePeriod *periodJSON `json:"freePeriod,omitempty"`
	Genres     []Genre     `json:"genres"`
	Rating     *Rating     `json:"rating,omitempty"`

	// 旧格式别名：只读不写。
	FreeStart string `json:"free_start,omitempty"`
	FreeEnd   string `json:"free_end,omitempty"`
}

func (g Game) MarshalJSON() ([]byte, error) {
	genres := g.Genres
	if genres == nil {
		genres = []Genre{}
	}
	return json.Marshal(gameJSON{
		ID:        g.ID,
		Slug:      g.Slug,
		Namespace: g.Namespace,
		Title:     g.Title,
		Thumbnail: g.Thumbnail,
		EpicURL:   g.EpicURL,
		FreePeriod: &periodJSON{
			Start: FormatTimestamp(g.FreePeriod.Start),
			End:   FormatTimestamp(g.FreePeriod.End),
		},
		Genres: genres,
		Rating: g.Rating,
	})
}

func (g *Game) UnmarshalJSON(b []byte) error {
	var w gameJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	start, end := w.FreeStart, w.FreeEnd
	if w.FreePeriod != nil {
		if strings.TrimSpace(w.FreePeriod.Start) != "" {
			start = w.FreePeriod.Start
		}
		if strings.TrimSpace(w.FreePeriod.End) != "" {
			end = w.FreePeriod.End
		}
	}

	*g = Game{
		ID:        w.ID,
		Slug:      w.Slug,
		Namespace: w.Namespace,
		Title:     w.Title,
		Thumbnail: w.Thumbnail,
		EpicURL:   w.EpicURL,
		FreePeriod: FreePeriod{
			Start: ParseTimestamp(start),
			End:   ParseTimestamp(end),
		},
		Genres: w.Genres,
		Rating: w.Rating,
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // Python isoformat 无时区：按 UTC
	"2006-01-02",
}

// ParseTimestamp 宽松解析 ISO-8601；失败返回零值时间（由展示层兜底文案）。
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FormatTimestamp 输出 RFC3339（UTC）；零值输出空串。
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
