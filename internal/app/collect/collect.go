package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
	"github.com/John-Robertt/epicfree/internal/provider"
)

// Execute 执行一次采集：fetch -> enrich -> save -> backfill，并返回对外稳定的 CollectReport。
// 单个游戏的评分失败只影响该条目；抓取或保存失败以合成条目报告。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.CollectReport {
	if obs == nil {
		obs = nopObserver{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	started := clock.Now().UTC()
	obs.OnStart(eff)

	rr := domain.CollectReport{
		Output:    eff.FeedPath,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 32),
	}
	finish := func() domain.CollectReport {
		rr.FinishedAt = clock.Now().UTC()
		rr.Finalize()
		return rr
	}

	fetchStarted := clock.Now()
	games, used, attempts, err := provider.FetchGames(ctx, deps.Sources, deps.Client)
	for _, a := range attempts {
		if a.Err != nil {
			deps.Log.Warn().Str("provider", a.Provider).Str("stage", a.Stage).Err(a.Err).Msg("促销来源失败")
		}
	}
	if err != nil {
		rr.Items = append(rr.Items, fetchFailed(err))
		return finish()
	}

	now := clock.Now()
	live := make([]domain.Game, 0, len(games))
	for _, g := range games {
		if g.FreePeriod.ActiveAt(now) || g.FreePeriod.UpcomingAt(now) {
			live = append(live, g)
		}
	}
	rr.Summary.Fetched = len(games)
	obs.OnPhaseDone("fetch", map[string]any{
		"provider": used,
		"games":    len(games),
		"live":     len(live),
	}, clock.Since(fetchStarted))

	enrichStarted := clock.Now()
	results := enrich(ctx, deps, obs, live, func(g domain.Game) string {
		if g.FreePeriod.ActiveAt(now) {
			return "current"
		}
		return "upcoming"
	})
	for i := range results {
		live[i].Rating = results[i].rating
		rr.Items = append(rr.Items, results[i].item)
	}
	obs.OnPhaseDone("enrich", map[string]any{
		"workers": workers(deps.Workers, len(live)),
		"games":   len(live),
	}, clock.Since(enrichStarted))

	saveStarted := clock.Now()
	res, err := deps.Repo.Save(live)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeSaveFailed, fmt.Sprintf("写入 feed 失败：%v", err)))
		return finish()
	}
	rr.Summary.Current = res.Current
	rr.Summary.Upcoming = res.Upcoming
	obs.OnPhaseDone("save", map[string]any{
		"current":       res.Current,
		"upcoming":      res.Upcoming,
		"past":          res.Past,
		"moved_to_past": res.MovedToPast,
		"revived":       res.Revived,
	}, clock.Since(saveStarted))

	backfillStarted := clock.Now()
	pending := deps.Repo.PastWithoutRating()
	if len(pending) > 0 && ctx.Err() == nil {
		back := enrich(ctx, deps, obs, pending, func(domain.Game) string { return "past" })
		found := make([]domain.Game, 0, len(back))
		for i := range back {
			if back[i].rating == nil {
				continue
			}
			g := pending[i]
			g.Rating = back[i].rating
			found = append(found, g)

			it := back[i].item
			it.Status = domain.ItemBackfilled
			rr.Items = append(rr.Items, it)
		}
		if _, err := deps.Repo.UpdatePastRatings(found); err != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeSaveFailed, fmt.Sprintf("回填 past 评分失败：%v", err)))
		}
		obs.OnPhaseDone("backfill", map[string]any{
			"pending":    len(pending),
			"backfilled": len(found),
		}, clock.Since(backfillStarted))
	}

	return finish()
}

type enrichResult struct {
	rating *domain.Rating
	item   domain.ItemResult
}

// enrich 以 worker pool 并发查询评分；返回值与 games 下标一一对应。
func enrich(ctx context.Context, deps Deps, obs Observer, games []domain.Game, bucket func(domain.Game) string) []enrichResult {
	out := make([]enrichResult, len(games))
	if len(games) == 0 {
		return out
	}
	if deps.Ratings == nil || len(deps.Ratings.Fetchers) == 0 {
		for i, g := range games {
			out[i] = enrichResult{item: newItem(g, bucket(g), domain.ItemUnrated)}
		}
		return out
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	type job struct {
		idx int
		g   domain.Game
	}
	type done struct {
		idx int
		res enrichResult
		dur time.Duration
	}

	jobs := make(chan job)
	results := make(chan done, len(games))

	n := workers(deps.Workers, len(games))
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				oneStarted := clock.Now()
				results <- done{idx: j.idx, res: rateOne(ctx, deps, j.g, bucket(j.g)), dur: clock.Since(oneStarted)}
			}
		}()
	}

	go func() {
		for i, g := range games {
			jobs <- job{idx: i, g: g}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	count := 0
	for d := range results {
		count++
		out[d.idx] = d.res
		obs.OnItemDone(count, len(games), d.res.item, d.dur)
	}
	return out
}

func rateOne(ctx context.Context, deps Deps, g domain.Game, bucket string) enrichResult {
	if err := ctx.Err(); err != nil {
		it := newItem(g, bucket, domain.ItemFailed)
		it.ErrorCode = domain.ErrCodeRatingFailed
		it.ErrorMsg = err.Error()
		return enrichResult{item: it}
	}

	r, used, err := deps.Ratings.FetchRatingTrace(ctx, g, deps.Client)
	if err != nil {
		it := newItem(g, bucket, domain.ItemFailed)
		it.ErrorCode = domain.ErrCodeRatingFailed
		it.ErrorMsg = fmt.Sprintf("评分查询失败：%v", err)
		return enrichResult{item: it}
	}
	if r == nil {
		return enrichResult{item: newItem(g, bucket, domain.ItemUnrated)}
	}
	it := newItem(g, bucket, domain.ItemRated)
	it.Sources = append(it.Sources, used...)
	return enrichResult{rating: r, item: it}
}

func workers(want, jobs int) int {
	if want < 1 {
		want = 1
	}
	if jobs > 0 && want > jobs {
		want = jobs
	}
	return want
}

func newItem(g domain.Game, bucket, status string) domain.ItemResult {
	return domain.ItemResult{
		ID:      g.ID,
		Title:   g.Title,
		Bucket:  bucket,
		Status:  status,
		Sources: []string{},
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.ItemFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Sources:   []string{},
	}
}

func fetchFailed(err error) domain.ItemResult {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Stage == "parse" {
		return syntheticFailed(domain.ErrCodeParseFailed, fmt.Sprintf("%s 解析失败（接口结构可能变化）：%v", pe.Provider, pe.Err))
	}
	return syntheticFailed(domain.ErrCodeFetchFailed, humanizeFetchError(err))
}

func humanizeFetchError(err error) string {
	name := "provider"
	inner := err
	var pe *provider.Error
	if errors.As(err, &pe) {
		name, inner = pe.Provider, pe.Err
	}

	var hs *provider.HTTPStatusError
	if errors.As(inner, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发限流）。建议稍后重试或配置 proxy.url。", name, hs.StatusCode)
		default:
			return fmt.Sprintf("%s 返回 HTTP %d。", name, hs.StatusCode)
		}
	}
	low := strings.ToLower(inner.Error())
	if errors.Is(inner, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理后重试。", name)
	}
	return fmt.Sprintf("%s 抓取失败：%v", name, inner)
}
