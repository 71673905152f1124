package feed

import (
	"sort"
	"strings"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// Tag 按来源桶给条目打状态，按 current -> upcoming -> past 拼接并按 id 去重。
// 状态只由桶决定，不看时间戳。
func Tag(f domain.Feed) []domain.Game {
	out := make([]domain.Game, 0, len(f.CurrentFree)+len(f.Upcoming)+len(f.Past))
	for _, b := range []struct {
		games  []domain.Game
		status domain.Status
	}{
		{f.CurrentFree, domain.StatusCurrent},
		{f.Upcoming, domain.StatusUpcoming},
		{f.Past, domain.StatusEnded},
	} {
		for _, g := range b.games {
			g.Status = b.status
			out = append(out, g)
		}
	}
	return Dedupe(out)
}

// Dedupe 按 id 去重，保留第一次出现的条目并保持原顺序。
func Dedupe(games []domain.Game) []domain.Game {
	seen := make(map[string]struct{}, len(games))
	out := make([]domain.Game, 0, len(games))
	for _, g := range games {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	return out
}

// Query 是渲染时的两个 UI 开关。
type Query struct {
	Search       string
	IncludeEnded bool
}

// Filter 先按标题做大小写不敏感的子串匹配（查询先 trim），再按开关排除已结束条目。
func Filter(games []domain.Game, q Query) []domain.Game {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.Game, 0, len(games))
	for _, g := range games {
		if needle != "" && !strings.Contains(strings.ToLower(g.Title), needle) {
			continue
		}
		if g.Status == domain.StatusEnded && !q.IncludeEnded {
			continue
		}
		out = append(out, g)
	}
	return out
}

// SortGames 按状态分组后各自排序，再按 [current, upcoming, past] 拼接：
// - current：end 升序
// - upcoming：start 升序
// - past：end 降序
// 平局都按标题（大小写不敏感）升序。结果幂等。
func SortGames(games []domain.Game) []domain.Game {
	var current, upcoming, past []domain.Game
	for _, g := range games {
		switch g.Status {
		case domain.StatusCurrent:
			current = append(current, g)
		case domain.StatusUpcoming:
			upcoming = append(upcoming, g)
		case domain.StatusEnded:
			past = append(past, g)
		}
	}

	sortBy(current, func(a, b domain.Game) int { return a.FreePeriod.End.Compare(b.FreePeriod.End) })
	sortBy(upcoming, func(a, b domain.Game) int { return a.FreePeriod.Start.Compare(b.FreePeriod.Start) })
	sortBy(past, func(a, b domain.Game) int { return b.FreePeriod.End.Compare(a.FreePeriod.End) })

	out := make([]domain.Game, 0, len(games))
	out = append(out, current...)
	out = append(out, upcoming...)
	return append(out, past...)
}

func sortBy(games []domain.Game, primary func(a, b domain.Game) int) {
	sort.SliceStable(games, func(i, j int) bool {
		if c := primary(games[i], games[j]); c != 0 {
			return c < 0
		}
		return strings.ToLower(games[i].Title) < strings.ToLower(games[j].Title)
	})
}
