package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// GameSource 把“上游促销接口的变化”限制在各自的子包内部；采集流程只依赖统一接口与 domain.Game。
//
// 约束：
// - Fetch 不做缓存、不做重试（由 httpx 统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
type GameSource interface {
	Name() string
	Fetch(ctx context.Context, c *http.Client) (raw []byte, sourceURL string, err error)
	Parse(raw []byte, sourceURL string) ([]domain.Game, error)
}

// RatingFetcher 为单个游戏查询评分。
//
// 查不到（没有匹配条目或来源没有分值）返回 (nil, nil)；
// 只有网络/解析失败才返回 error。
type RatingFetcher interface {
	Name() string
	FetchRating(ctx context.Context, g domain.Game, c *http.Client) (*domain.Rating, error)
}
