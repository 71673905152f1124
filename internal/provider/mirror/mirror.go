package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/epicfree/internal/domain"
	providerx "github.com/John-Robertt/epicfree/internal/provider"
)

// Provider 从另一个已部署站点读取 games-free.json，作为 Epic 接口不可用时的回退来源。
//
// 只取 currentFree 与 upcoming；past 由本地快照自己维护。
type Provider struct {
	URL string
}

func (Provider) Name() string { return "mirror" }

func (p Provider) Fetch(ctx context.Context, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	u := strings.TrimSpace(p.URL)
	if u == "" {
		return nil, "", errors.New("mirror_url 为空")
	}
	b, err := providerx.FetchURL(ctx, c, u)
	return b, u, err
}

func (Provider) Parse(raw []byte, _ string) ([]domain.Game, error) {
	var f domain.Feed
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("解析镜像 feed 失败：%w", err)
	}
	out := make([]domain.Game, 0, len(f.CurrentFree)+len(f.Upcoming))
	for _, bucket := range [][]domain.Game{f.CurrentFree, f.Upcoming} {
		for _, g := range bucket {
			if strings.TrimSpace(g.ID) == "" || !g.FreePeriod.Valid() {
				continue
			}
			out = append(out, g)
		}
	}
	return out, nil
}
