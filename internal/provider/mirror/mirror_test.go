package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const feedJSON = `{
  "updated": "2025-01-02T00:00:00Z",
  "currentFree": [
    {"id": "a", "title": "A", "freePeriod": {"start": "2025-01-01T00:00:00Z", "end": "2025-01-08T00:00:00Z"}},
    {"id": "", "title": "No Id", "freePeriod": {"start": "2025-01-01T00:00:00Z", "end": "2025-01-08T00:00:00Z"}}
  ],
  "upcoming": [
    {"id": "b", "title": "B", "freePeriod": {"start": "2025-01-08T00:00:00Z", "end": "2025-01-15T00:00:00Z"}},
    {"id": "c", "title": "Bad Dates", "freePeriod": {"start": "?", "end": "?"}}
  ],
  "past": [
    {"id": "z", "title": "Z", "freePeriod": {"start": "2024-12-01T00:00:00Z", "end": "2024-12-08T00:00:00Z"}}
  ]
}`

func TestFetchParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	p := Provider{URL: srv.URL + "/data/games-free.json"}
	raw, u, err := p.Fetch(context.Background(), srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	games, err := p.Parse(raw, u)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(games) != 2 || games[0].ID != "a" || games[1].ID != "b" {
		t.Fatalf("应只保留有效的 current/upcoming：%+v", games)
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	if _, _, err := (Provider{}).Fetch(context.Background(), http.DefaultClient); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}
