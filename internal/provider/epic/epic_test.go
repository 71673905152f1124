package epic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "promotions.json"))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func TestParse_Fixture(t *testing.T) {
	games, err := Provider{}.Parse(readFixture(t), "")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(games) != 3 {
		t.Fatalf("期望 3 条免费游戏，实际 %d：%+v", len(games), games)
	}

	cur := games[0]
	if cur.ID != "game-current" || cur.Slug != "current-game" || cur.Namespace != "ns-current" {
		t.Fatalf("current 基本字段不正确：%+v", cur)
	}
	if cur.EpicURL != "https://store.epicgames.com/ko/p/current-game" {
		t.Fatalf("epicUrl 不正确：%q", cur.EpicURL)
	}
	if cur.Thumbnail != "https://cdn.example.com/wide.jpg" {
		t.Fatalf("应优先使用 OfferImageWide：%q", cur.Thumbnail)
	}
	if len(cur.Genres) != 2 || cur.Genres[0].Name != "Action" || cur.Genres[1].Name != "Open World" || cur.Genres[1].ID != 1 {
		t.Fatalf("genres 不正确：%+v", cur.Genres)
	}
	if !cur.FreePeriod.Start.Equal(time.Date(2025, 1, 1, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("start 不正确：%v", cur.FreePeriod.Start)
	}

	bundle := games[1]
	if bundle.EpicURL != "https://store.epicgames.com/ko/bundles/upcoming-bundle" {
		t.Fatalf("bundle 应使用 /bundles/ 且去掉 /home：%q", bundle.EpicURL)
	}
	if bundle.Thumbnail != "https://cdn.example.com/tall.jpg" {
		t.Fatalf("没有 OfferImageWide 时应取第一张：%q", bundle.Thumbnail)
	}
	if len(bundle.Genres) != 2 || bundle.Genres[0].Name != "Indie" || bundle.Genres[1].Name != "Horror" {
		t.Fatalf("tags 白名单提取不正确：%+v", bundle.Genres)
	}

	mystery := games[2]
	if mystery.Slug != "" || mystery.EpicURL != "" {
		t.Fatalf("mysterygame 不应产生 slug/url：%+v", mystery)
	}
}

func TestExtractSlug(t *testing.T) {
	mk := func(page, product, urlSlug string) element {
		var el element
		if page != "" {
			el.CatalogNs = &catalogNs{}
			el.CatalogNs.Mappings = append(el.CatalogNs.Mappings, struct {
				PageSlug string `json:"pageSlug"`
			}{PageSlug: page})
		}
		el.ProductSlug = product
		el.URLSlug = urlSlug
		return el
	}

	cases := []struct {
		name string
		el   element
		want string
	}{
		{"mappings 优先", mk("from-mappings", "p", "u"), "from-mappings"},
		{"productSlug 去 /home", mk("", "game-slug/home", "u"), "game-slug"},
		{"productSlug=None 跳过", mk("", "None", "from-url-slug"), "from-url-slug"},
		{"productSlug=[] 跳过", mk("", "[]", "from-url-slug"), "from-url-slug"},
		{"mysterygame 跳过", mk("", "", "mysterygame-7"), ""},
		{"32 位 id 跳过", mk("", "", "0123456789abcdef0123456789ABCDEF"), ""},
		{"全部缺失", mk("", "", ""), ""},
	}
	for _, c := range cases {
		if got := extractSlug(c.el); got != c.want {
			t.Fatalf("%s：期望 %q，实际 %q", c.name, c.want, got)
		}
	}
}

func TestFreePeriod_SkipsInvalid(t *testing.T) {
	zero := 0.0
	groups := []offerGroup{{PromotionalOffers: []offer{
		{StartDate: "bad", EndDate: "2025-01-08T00:00:00Z"},
		{StartDate: "2025-01-08T00:00:00Z", EndDate: "2025-01-01T00:00:00Z"},
		{StartDate: "2025-02-01T00:00:00Z", EndDate: "2025-02-08T00:00:00Z"},
	}}}
	for i := range groups[0].PromotionalOffers {
		groups[0].PromotionalOffers[i].DiscountSetting.DiscountPercentage = &zero
	}

	fp, ok := freePeriod(groups)
	if !ok {
		t.Fatalf("期望找到合格优惠")
	}
	if !fp.Start.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("应跳过非法日期与倒置区间：%+v", fp)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := (Provider{}).Parse([]byte("{"), ""); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
	if _, err := (Provider{}).Parse(nil, ""); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestFetch_QueryAndLocale(t *testing.T) {
	fixture := readFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/freeGamesPromotions" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("locale") != "en-US" || q.Get("country") != "US" || q.Get("allowCountries") != "US" {
			t.Errorf("query 不正确：%s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	}))
	defer srv.Close()

	p := Provider{BaseURL: srv.URL, Locale: "en-US", Country: "us"}
	raw, u, err := p.Fetch(context.Background(), srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	games, err := p.Parse(raw, u)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(games) == 0 || games[0].EpicURL != "https://store.epicgames.com/en-US/p/current-game" {
		t.Fatalf("locale 应进入 epicUrl：%+v", games)
	}
}
