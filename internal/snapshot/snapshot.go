package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/infra/fsx"
)

// Repository 维护 games-free.json 快照（累积保存：past 跨多次采集保留）。
//
// 约束：
// - 写入总是原子替换，失败时旧文件保持不变
// - 读取对缺失/损坏文件宽容：按空快照处理并记录日志
type Repository struct {
	Path  string
	Clock clockwork.Clock
	Log   zerolog.Logger

	mu sync.Mutex
}

func New(path string, clock clockwork.Clock, log zerolog.Logger) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{Path: filepath.Clean(path), Clock: clock, Log: log}
}

// SaveResult 描述一次 Save 对快照的改动。
type SaveResult struct {
	Current     int
	Upcoming    int
	MovedToPast int // 上次 current、这次消失的条目
	Revived     int // 重新免费、从 past 移除的条目
	Past        int
}

// Load 读取快照。文件缺失、JSON 损坏、顶层不是对象都返回空快照；
// 单个桶不是数组时按空数组处理；数组里无法解析的条目被跳过。
func (r *Repository) Load() domain.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Repository) load() domain.Feed {
	empty := domain.Feed{CurrentFree: []domain.Game{}, Upcoming: []domain.Game{}, Past: []domain.Game{}}

	raw, ok, err := fsx.ReadFileIfExists(r.Path)
	if err != nil {
		r.Log.Error().Err(err).Str("path", r.Path).Msg("读取快照失败，按空快照处理")
		return empty
	}
	if !ok {
		return empty
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		r.Log.Error().Err(err).Str("path", r.Path).Msg("快照不是合法 JSON 对象，按空快照处理")
		return empty
	}

	f := empty
	if u, ok := top["updated"]; ok {
		_ = json.Unmarshal(u, &f.Updated)
	}
	f.CurrentFree = r.decodeBucket(top["currentFree"], "currentFree")
	f.Upcoming = r.decodeBucket(top["upcoming"], "upcoming")
	f.Past = r.decodeBucket(top["past"], "past")
	return f
}

func (r *Repository) decodeBucket(raw json.RawMessage, name string) []domain.Game {
	out := []domain.Game{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for i, it := range items {
		var g domain.Game
		if err := json.Unmarshal(it, &g); err != nil || strings.TrimSpace(g.ID) == "" {
			r.Log.Warn().Str("bucket", name).Int("index", i).Msg("跳过无法解析的快照条目")
			continue
		}
		out = append(out, g)
	}
	return out
}

// Save 把本次采集结果合并进快照：
// 1) 按 now 分成 current（start<=now<=end）与 upcoming（now<start），同 id 后者覆盖前者
// 2) 重新免费的 id 从 past 移除
// 3) 上次在 current、这次既不在 current 也不在 upcoming 的条目移入 past
// 4) past 按 end 降序；updated=now
func (r *Repository) Save(games []domain.Game) (SaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Clock.Now().UTC()
	prev := r.load()

	current, upcoming := categorize(games, now, r.Log)

	active := make(map[string]struct{}, len(current)+len(upcoming))
	for _, g := range current {
		active[g.ID] = struct{}{}
	}
	for _, g := range upcoming {
		active[g.ID] = struct{}{}
	}

	var res SaveResult
	past := newOrdered(len(prev.Past))
	for _, g := range prev.Past {
		if _, ok := active[g.ID]; ok {
			res.Revived++
			continue
		}
		past.put(g)
	}
	for _, g := range prev.CurrentFree {
		if _, ok := active[g.ID]; ok {
			continue
		}
		past.put(g)
		res.MovedToPast++
	}

	pastList := past.list()
	sort.SliceStable(pastList, func(i, j int) bool {
		return pastList[i].FreePeriod.End.After(pastList[j].FreePeriod.End)
	})

	f := domain.Feed{
		Updated:     domain.FormatTimestamp(now),
		CurrentFree: current,
		Upcoming:    upcoming,
		Past:        pastList,
	}
	if err := r.write(f); err != nil {
		return SaveResult{}, err
	}

	res.Current = len(current)
	res.Upcoming = len(upcoming)
	res.Past = len(pastList)
	r.Log.Info().
		Int("current", res.Current).
		Int("upcoming", res.Upcoming).
		Int("past", res.Past).
		Int("moved_to_past", res.MovedToPast).
		Int("revived", res.Revived).
		Str("path", r.Path).
		Msg("快照已保存")
	return res, nil
}

func categorize(games []domain.Game, now time.Time, log zerolog.Logger) (current, upcoming []domain.Game) {
	cur := newOrdered(len(games))
	up := newOrdered(len(games))
	for _, g := range games {
		g = normalizeRating(g, log)
		switch {
		case g.FreePeriod.ActiveAt(now):
			cur.put(g)
		case g.FreePeriod.UpcomingAt(now):
			up.put(g)
		}
	}
	return cur.list(), up.list()
}

func normalizeRating(g domain.Game, log zerolog.Logger) domain.Game {
	if g.Rating == nil {
		return g
	}
	if err := g.Rating.Validate(); err != nil {
		log.Warn().Str("game_id", g.ID).Err(err).Msg("评分超出范围，已丢弃")
		g.Rating = nil
		return g
	}
	if !g.Rating.HasAny() {
		g.Rating = nil
		return g
	}
	rt := *g.Rating
	rt.ScoreColor = rt.Color()
	g.Rating = &rt
	return g
}

// PastWithoutRating 返回 past 中尚无评分的条目（用于回填）。
func (r *Repository) PastWithoutRating() []domain.Game {
	f := r.Load()
	out := []domain.Game{}
	for _, g := range f.Past {
		if g.Rating.HasAny() {
			continue
		}
		out = append(out, g)
	}
	return out
}

// UpdatePastRatings 把回填到的评分写回 past；返回更新条数。
// 没有任何更新时不写文件。
func (r *Repository) UpdatePastRatings(enriched []domain.Game) (int, error) {
	if len(enriched) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*domain.Rating, len(enriched))
	for _, g := range enriched {
		if g.Rating.HasAny() {
			byID[g.ID] = g.Rating
		}
	}
	if len(byID) == 0 {
		return 0, nil
	}

	f := r.load()
	updated := 0
	for i := range f.Past {
		rt, ok := byID[f.Past[i].ID]
		if !ok {
			continue
		}
		f.Past[i].Rating = rt
		f.Past[i] = normalizeRating(f.Past[i], r.Log)
		updated++
	}
	if updated == 0 {
		return 0, nil
	}

	f.Updated = domain.FormatTimestamp(r.Clock.Now())
	if err := r.write(f); err != nil {
		return 0, err
	}
	return updated, nil
}

func (r *Repository) write(f domain.Feed) error {
	if f.CurrentFree == nil {
		f.CurrentFree = []domain.Game{}
	}
	if f.Upcoming == nil {
		f.Upcoming = []domain.Game{}
	}
	if f.Past == nil {
		f.Past = []domain.Game{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("序列化快照失败：%w", err)
	}
	return fsx.WriteFileAtomic(filepath.Dir(r.Path), filepath.Base(r.Path), buf.Bytes())
}

// ordered 是按首次出现位置保序、同 id 后写覆盖的小容器。
type ordered struct {
	idx   map[string]int
	items []domain.Game
}

func newOrdered(n int) *ordered {
	return &ordered{idx: make(map[string]int, n), items: make([]domain.Game, 0, n)}
}

func (o *ordered) put(g domain.Game) {
	if i, ok := o.idx[g.ID]; ok {
		o.items[i] = g
		return
	}
	o.idx[g.ID] = len(o.items)
	o.items = append(o.items, g)
}

func (o *ordered) list() []domain.Game { return o.items }
