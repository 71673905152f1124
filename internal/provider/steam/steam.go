package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
	providerx "github.com/John-Robertt/epicfree/internal/provider"
)

const defaultBaseURL = "https://store.steampowered.com"

// Provider 通过 Steam 商店公开接口（无需 API key）查评分：
// - storesearch：按标题搜索，取第一个结果的 appid
// - appdetails：metacritic.score
// - appreviews：好评率（total_positive / total_reviews）
//
// 搜索失败返回 error；详情/评测单项失败只降级为缺失。
type Provider struct {
	BaseURL string
	Country string // storesearch 的 cc，默认 KR
	Log     zerolog.Logger
}

func (Provider) Name() string { return "steam" }

func (p Provider) base() string {
	if b := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); b != "" {
		return b
	}
	return defaultBaseURL
}

func (p Provider) country() string {
	if c := strings.TrimSpace(p.Country); c != "" {
		return strings.ToUpper(c)
	}
	return "KR"
}

func (p Provider) FetchRating(ctx context.Context, g domain.Game, c *http.Client) (*domain.Rating, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	title := strings.TrimSpace(g.Title)
	if title == "" {
		return nil, nil
	}

	appID, ok, err := p.search(ctx, c, title)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.Log.Debug().Str("title", title).Msg("steam 搜索无结果")
		return nil, nil
	}

	r := &domain.Rating{}
	if v, ok, err := p.metacritic(ctx, c, appID); err != nil {
		p.Log.Debug().Int64("app_id", appID).Err(err).Msg("steam appdetails 失败")
	} else if ok {
		r.Metacritic = &v
	}
	if v, ok, err := p.positiveRate(ctx, c, appID); err != nil {
		p.Log.Debug().Int64("app_id", appID).Err(err).Msg("steam appreviews 失败")
	} else if ok {
		r.Steam = &v
	}

	if !r.HasAny() {
		return nil, nil
	}
	return r, nil
}

type searchResponse struct {
	Items []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
}

func (p Provider) search(ctx context.Context, c *http.Client, title string) (int64, bool, error) {
	q := url.Values{}
	q.Set("term", title)
	q.Set("l", "english")
	q.Set("cc", p.country())
	raw, err := providerx.FetchURL(ctx, c, p.base()+"/api/storesearch/?"+q.Encode())
	if err != nil {
		return 0, false, err
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, false, fmt.Errorf("解析 storesearch 失败：%w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ID == 0 {
		return 0, false, nil
	}
	return resp.Items[0].ID, true, nil
}

type appDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Metacritic *struct {
			Score *float64 `json:"score"`
		} `json:"metacritic"`
	} `json:"data"`
}

func (p Provider) metacritic(ctx context.Context, c *http.Client, appID int64) (float64, bool, error) {
	id := strconv.FormatInt(appID, 10)
	q := url.Values{}
	q.Set("appids", id)
	q.Set("l", "korean")
	raw, err := providerx.FetchURL(ctx, c, p.base()+"/api/appdetails?"+q.Encode())
	if err != nil {
		return 0, false, err
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, false, fmt.Errorf("解析 appdetails 失败：%w", err)
	}
	entry, ok := resp[id]
	if !ok {
		return 0, false, nil
	}
	var d appDetails
	if err := json.Unmarshal(entry, &d); err != nil {
		// success=false 时 data 可能是 []，按缺失处理。
		return 0, false, nil
	}
	if !d.Success || d.Data.Metacritic == nil || d.Data.Metacritic.Score == nil {
		return 0, false, nil
	}
	return *d.Data.Metacritic.Score, true, nil
}

type reviewsResponse struct {
	QuerySummary struct {
		TotalPositive int64 `json:"total_positive"`
		TotalReviews  int64 `json:"total_reviews"`
	} `json:"query_summary"`
}

func (p Provider) positiveRate(ctx context.Context, c *http.Client, appID int64) (float64, bool, error) {
	q := url.Values{}
	q.Set("json", "1")
	q.Set("language", "all")
	raw, err := providerx.FetchURL(ctx, c, p.base()+"/appreviews/"+strconv.FormatInt(appID, 10)+"?"+q.Encode())
	if err != nil {
		return 0, false, err
	}
	var resp reviewsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, false, fmt.Errorf("解析 appreviews 失败：%w", err)
	}
	return PositiveRate(resp.QuerySummary.TotalPositive, resp.QuerySummary.TotalReviews)
}

// PositiveRate 把好评数换算为整数百分比（四舍六入五成双）；total=0 视为缺失。
func PositiveRate(positive, total int64) (float64, bool, error) {
	if total <= 0 {
		return 0, false, nil
	}
	if positive < 0 || positive > total {
		return 0, false, fmt.Errorf("好评数非法：%d/%d", positive, total)
	}
	return math.RoundToEven(float64(positive) / float64(total) * 100), true, nil
}
