package provider

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// Composite 依次询问多个 RatingFetcher，并按来源字段合并结果：
// 每个字段取第一个非空值；单个 fetcher 失败只记日志并跳过。
type Composite struct {
	Fetchers []RatingFetcher
	Log      zerolog.Logger
}

func NewComposite(log zerolog.Logger, fetchers ...RatingFetcher) *Composite {
	return &Composite{Fetchers: fetchers, Log: log}
}

func (c *Composite) Name() string { return "composite" }

// FetchRating 返回合并后的评分；全部来源都没有分值时返回 (nil, nil)。
func (c *Composite) FetchRating(ctx context.Context, g domain.Game, hc *http.Client) (*domain.Rating, error) {
	r, _, err := c.FetchRatingTrace(ctx, g, hc)
	return r, err
}

// FetchRatingTrace 与 FetchRating 相同，额外返回贡献了分值的 fetcher 名称。
//
// 仅当 ctx 被取消时返回 error。
func (c *Composite) FetchRatingTrace(ctx context.Context, g domain.Game, hc *http.Client) (*domain.Rating, []string, error) {
	merged := &domain.Rating{}
	var used []string

	for _, f := range c.Fetchers {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		r, err := f.FetchRating(ctx, g, hc)
		if err != nil {
			c.Log.Warn().
				Str("provider", f.Name()).
				Str("game_id", g.ID).
				Str("title", g.Title).
				Err(err).
				Msg("评分查询失败，跳过该来源")
			continue
		}
		if r == nil {
			continue
		}

		contributed := false
		for _, s := range domain.RatingSources {
			if _, ok := merged.Score(s); ok {
				continue
			}
			if v, ok := r.Score(s); ok {
				merged.Set(s, v)
				contributed = true
			}
		}
		if contributed {
			used = append(used, f.Name())
		}
	}

	if !merged.HasAny() {
		return nil, nil, nil
	}
	merged.ScoreColor = merged.Color()
	return merged, used, nil
}
