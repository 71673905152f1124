package collect

import (
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/infra/httpx"
	"github.com/John-Robertt/epicfree/internal/provider"
	"github.com/John-Robertt/epicfree/internal/provider/epic"
	"github.com/John-Robertt/epicfree/internal/provider/mirror"
	"github.com/John-Robertt/epicfree/internal/provider/steam"
	"github.com/John-Robertt/epicfree/internal/snapshot"
)

// Deps 是一次采集依赖的外部协作者；测试里可以整体替换。
type Deps struct {
	Sources []provider.GameSource
	Ratings *provider.Composite
	Client  *http.Client
	Repo    *snapshot.Repository
	Clock   clockwork.Clock
	Log     zerolog.Logger

	// Workers 是评分查询的并发度（<1 按 1 处理）。
	Workers int
}

// NewDeps 按配置组装真实依赖：
// - 促销来源：epic，配置了 mirror_url 时追加 mirror 作为回退
// - 评分来源：按 ratings 顺序从注册表选取
func NewDeps(eff config.EffectiveConfig, log zerolog.Logger) (Deps, error) {
	client, err := httpx.NewAPIClient(eff.ProxyURL)
	if err != nil {
		return Deps{}, fmt.Errorf("proxy.url 无效：%w", err)
	}

	sources := []provider.GameSource{epic.Provider{Locale: eff.Locale, Country: eff.Country}}
	if eff.MirrorURL != "" {
		sources = append(sources, mirror.Provider{URL: eff.MirrorURL})
	}

	reg, err := provider.NewRegistry[provider.RatingFetcher](
		steam.Provider{Country: eff.Country, Log: log.With().Str("provider", "steam").Logger()},
	)
	if err != nil {
		return Deps{}, err
	}
	fetchers, err := reg.Select(eff.Ratings)
	if err != nil {
		return Deps{}, err
	}

	clock := clockwork.NewRealClock()
	return Deps{
		Sources: sources,
		Ratings: provider.NewComposite(log, fetchers...),
		Client:  client,
		Repo:    snapshot.New(eff.FeedPath, clock, log),
		Clock:   clock,
		Log:     log,
		Workers: eff.Concurrency,
	}, nil
}
