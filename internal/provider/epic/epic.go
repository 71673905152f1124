package epic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/John-Robertt/epicfree/internal/domain"
	providerx "github.com/John-Robertt/epicfree/internal/provider"
)

const (
	defaultBaseURL  = "https://store-site-backend-static-ipv4.ak.epicgames.com"
	defaultStoreURL = "https://store.epicgames.com"
)

// Provider 拉取 Epic 商店的免费促销列表（freeGamesPromotions 接口）。
//
// 约束：
// - 只认 discountPercentage==0 的优惠（0 表示 100% 折扣，即免费；其余只是打折）
// - 先看 promotionalOffers 再看 upcomingPromotionalOffers，第一个合格的优惠胜出
// - Parse 是纯函数
type Provider struct {
	// BaseURL 为空时使用 Epic 官方静态接口域名（测试可指向 httptest）。
	BaseURL string
	// StoreURL 是商店页前缀，用于拼接 epicUrl。
	StoreURL string

	Locale  string // 例如 "ko"
	Country string // 例如 "KR"
}

func (Provider) Name() string { return "epic" }

func (p Provider) locale() string {
	if s := strings.TrimSpace(p.Locale); s != "" {
		return s
	}
	return "ko"
}

func (p Provider) country() string {
	if s := strings.TrimSpace(p.Country); s != "" {
		return strings.ToUpper(s)
	}
	return "KR"
}

func (p Provider) sourceURL() string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	q := url.Values{}
	q.Set("locale", p.locale())
	q.Set("country", p.country())
	q.Set("allowCountries", p.country())
	return base + "/freeGamesPromotions?" + q.Encode()
}

func (p Provider) Fetch(ctx context.Context, c *http.Client) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("http client 不能为空")
	}
	u := p.sourceURL()
	b, err := providerx.FetchURL(ctx, c, u)
	return b, u, err
}

// Parse 把接口响应解析为 Game 列表；不是免费促销的条目直接跳过。
func (p Provider) Parse(raw []byte, _ string) ([]domain.Game, error) {
	if len(raw) == 0 {
		return nil, errors.New("响应为空")
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("解析促销接口 JSON 失败：%w", err)
	}
	if len(resp.Errors) > 0 && resp.Data.Catalog.SearchStore.Elements == nil {
		return nil, fmt.Errorf("促销接口返回错误：%s", resp.Errors[0].Message)
	}

	out := make([]domain.Game, 0, len(resp.Data.Catalog.SearchStore.Elements))
	for _, el := range resp.Data.Catalog.SearchStore.Elements {
		if g, ok := p.toGame(el); ok {
			out = append(out, g)
		}
	}
	return out, nil
}

type response struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []element `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type element struct {
	ID          string     `json:"id"`
	Namespace   string     `json:"namespace"`
	Title       string     `json:"title"`
	OfferType   string     `json:"offerType"`
	ProductSlug string     `json:"productSlug"`
	URLSlug     string     `json:"urlSlug"`
	CatalogNs   *catalogNs `json:"catalogNs"`
	KeyImages   []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"keyImages"`
	Categories []struct {
		Path string `json:"path"`
	} `json:"categories"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Promotions *struct {
		PromotionalOffers         []offerGroup `json:"promotionalOffers"`
		UpcomingPromotionalOffers []offerGroup `json:"upcomingPromotionalOffers"`
	} `json:"promotions"`
}

type catalogNs struct {
	Mappings []struct {
		PageSlug string `json:"pageSlug"`
	} `json:"mappings"`
}

type offerGroup struct {
	PromotionalOffers []offer `json:"promotionalOffers"`
}

type offer struct {
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	DiscountSetting struct {
		DiscountPercentage *float64 `json:"discountPercentage"`
	} `json:"discountSetting"`
}

func (p Provider) toGame(el element) (domain.Game, bool) {
	if el.Promotions == nil {
		return domain.Game{}, false
	}
	period, ok := freePeriod(el.Promotions.PromotionalOffers, el.Promotions.UpcomingPromotionalOffers)
	if !ok {
		return domain.Game{}, false
	}
	id := strings.TrimSpace(el.ID)
	if id == "" {
		return domain.Game{}, false
	}

	slug := extractSlug(el)
	epicURL := ""
	if slug != "" {
		store := strings.TrimRight(strings.TrimSpace(p.StoreURL), "/")
		if store == "" {
			store = defaultStoreURL
		}
		epicURL = store + "/" + p.locale() + "/" + urlPath(el) + "/" + slug
	}

	return domain.Game{
		ID:         id,
		Slug:       slug,
		Namespace:  el.Namespace,
		Title:      el.Title,
		Thumbnail:  thumbnail(el),
		EpicURL:    epicURL,
		FreePeriod: period,
		Genres:     genres(el),
	}, true
}

func freePeriod(groups ...[]offerGroup) (domain.FreePeriod, bool) {
	for _, gs := range groups {
		for _, g := range gs {
			for _, o := range g.PromotionalOffers {
				dp := o.DiscountSetting.DiscountPercentage
				if dp == nil || *dp != 0 {
					continue
				}
				if strings.TrimSpace(o.StartDate) == "" || strings.TrimSpace(o.EndDate) == "" {
					continue
				}
				fp := domain.FreePeriod{
					Start: domain.ParseTimestamp(o.StartDate),
					End:   domain.ParseTimestamp(o.EndDate),
				}
				if !fp.Valid() {
					continue
				}
				return fp, true
			}
		}
	}
	return domain.FreePeriod{}, false
}

// extractSlug 依次尝试 catalogNs.mappings[0].pageSlug、productSlug、urlSlug。
func extractSlug(el element) string {
	if el.CatalogNs != nil && len(el.CatalogNs.Mappings) > 0 {
		if s := strings.TrimSpace(el.CatalogNs.Mappings[0].PageSlug); s != "" {
			return s
		}
	}

	ps := strings.TrimSpace(el.ProductSlug)
	if ps != "" && ps != "None" && ps != "[]" {
		return strings.TrimSuffix(ps, "/home")
	}

	us := strings.TrimSpace(el.URLSlug)
	if us != "" && !strings.HasPrefix(us, "mysterygame") && !isOpaqueID(us) {
		return us
	}
	return ""
}

// isOpaqueID 识别 32 位字母数字的内部 id（不是可读 slug）。
func isOpaqueID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func urlPath(el element) string {
	if el.OfferType == "BUNDLE" {
		return "bundles"
	}
	for _, c := range el.Categories {
		if c.Path == "bundles" {
			return "bundles"
		}
	}
	return "p"
}

func thumbnail(el element) string {
	for _, img := range el.KeyImages {
		if img.Type == "OfferImageWide" {
			return img.URL
		}
	}
	if len(el.KeyImages) > 0 {
		return el.KeyImages[0].URL
	}
	return ""
}

var genreKeywords = map[string]struct{}{
	"action": {}, "adventure": {}, "rpg": {}, "puzzle": {}, "strategy": {},
	"simulation": {}, "sports": {}, "racing": {}, "shooter": {}, "platformer": {},
	"horror": {}, "survival": {}, "indie": {}, "casual": {}, "arcade": {},
	"fighting": {}, "roguelike": {}, "open world": {}, "sandbox": {},
}

// genres 先从 "genre/xxx" 分类提取；一个都没有时再从 tags 里按关键词白名单提取。
func genres(el element) []domain.Genre {
	title := cases.Title(language.English)
	out := []domain.Genre{}
	seen := map[string]struct{}{}

	for _, c := range el.Categories {
		rest, ok := strings.CutPrefix(c.Path, "genre/")
		if !ok {
			continue
		}
		name := title.String(strings.ReplaceAll(rest, "-", " "))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, domain.Genre{ID: len(out), Name: name})
	}
	if len(out) > 0 {
		return out
	}

	for _, t := range el.Tags {
		if _, ok := genreKeywords[strings.ToLower(t.Name)]; !ok {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, domain.Genre{ID: len(out), Name: title.String(t.Name)})
	}
	return out
}
