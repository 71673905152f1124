package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/John-Robertt/epicfree/internal/domain"
)

const (
	// CountdownAttr 是倒计时元素的标记属性，值为 RFC3339 目标时间。
	CountdownAttr = "data-countdown"
	// CountdownSelector 用于每次 tick 重新扫描倒计时元素。
	CountdownSelector = "[" + CountdownAttr + "]"
	// CountdownEndedHTML 替换到点的倒计时：只提示刷新，不自动重新拉取。
	CountdownEndedHTML = `<button type="button" class="countdown-ended" data-action="reload" onclick="location.reload()">Now available - refresh</button>`
)

// Options 是渲染的外部输入。
type Options struct {
	Now     time.Time
	Sources []domain.RatingSource // 徽章来源及顺序；nil 表示全部
}

func (o Options) sources() []domain.RatingSource {
	if o.Sources == nil {
		return domain.RatingSources
	}
	return o.Sources
}

type badgeData struct {
	Key, Tier, Label, Name, Icon, Value string
}

type timeData struct {
	Label   string
	Ended   bool
	Since   string
	Valid   bool
	Expired bool
	Text    string
	Target  string
}

type cardData struct {
	ID, Status, Title string
	Link, Thumbnail   string
	Genres            []string
	Badges            []badgeData
	Time              timeData
	CTA               string
}

func badgeList(r *domain.Rating, sources []domain.RatingSource) []badgeData {
	var out []badgeData
	for _, s := range sources {
		v, ok := r.Score(s)
		if !ok {
			continue
		}
		cfg := s.Config()
		value := cfg.Format(v)
		tier := domain.TierFor(domain.NormalizeScore(v, cfg.Scale))
		out = append(out, badgeData{
			Key:   cfg.Key,
			Tier:  strings.ToLower(tier.String()),
			Label: fmt.Sprintf("%s %s (%s)", cfg.Name, value, tier),
			Name:  cfg.Name,
			Icon:  cfg.Icon,
			Value: value,
		})
	}
	return out
}

// Badges 为条目上存在的每个已配置来源渲染一个评分徽章。
func Badges(r *domain.Rating, sources []domain.RatingSource) string {
	return execute("badges", badgeList(r, sources))
}

// timeInfo 按状态三路取时间信息：已结束显示相对时间；current 倒数到 end；upcoming 倒数到 start。
func timeInfo(g domain.Game, now time.Time) timeData {
	if g.Status == domain.StatusEnded {
		return timeData{Ended: true, Since: FormatTimeSince(g.FreePeriod.End, now)}
	}
	label, target := "Ends in", g.FreePeriod.End
	if g.Status == domain.StatusUpcoming {
		label, target = "Starts in", g.FreePeriod.Start
	}
	text, expired, ok := Countdown(target, now)
	return timeData{
		Label:   label,
		Valid:   ok,
		Expired: expired,
		Text:    text,
		Target:  domain.FormatTimestamp(target),
	}
}

// TimeInfo 渲染卡片上的时间信息块。
func TimeInfo(g domain.Game, now time.Time) string {
	return execute("timeinfo", timeInfo(g, now))
}

func card(g domain.Game, opt Options) cardData {
	c := cardData{
		ID:        g.ID,
		Status:    g.Status.String(),
		Title:     g.Title,
		Link:      safeURL(g.EpicURL),
		Thumbnail: strings.TrimSpace(g.Thumbnail),
		Badges:    badgeList(g.Rating, opt.sources()),
		Time:      timeInfo(g, opt.Now),
		CTA:       "Claim on Epic",
	}
	for _, gr := range g.Genres {
		if name := strings.TrimSpace(gr.Name); name != "" {
			c.Genres = append(c.Genres, name)
		}
	}
	if g.Status != domain.StatusCurrent {
		c.CTA = "View on Epic"
	}
	return c
}

// Card 渲染单个游戏卡片；外部文本由模板按上下文转义，链接先经过协议白名单。
func Card(g domain.Game, opt Options) string {
	return execute("card", card(g, opt))
}
