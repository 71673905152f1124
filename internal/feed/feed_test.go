package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
)

var base = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func g(id, title string, status domain.Status, start, end time.Time) domain.Game {
	return domain.Game{ID: id, Title: title, Status: status, FreePeriod: domain.FreePeriod{Start: start, End: end}}
}

func ids(games []domain.Game) []string {
	out := make([]string, 0, len(games))
	for _, x := range games {
		out = append(out, x.ID)
	}
	return out
}

func TestTag_ExactlyOneStatusAndFirstWins(t *testing.T) {
	f := domain.Feed{
		CurrentFree: []domain.Game{{ID: "a", Title: "A current"}},
		Upcoming:    []domain.Game{{ID: "b"}, {ID: "a", Title: "A upcoming"}},
		Past:        []domain.Game{{ID: "c"}, {ID: "b", Title: "B past"}},
	}
	got := Tag(f)

	if !reflect.DeepEqual(ids(got), []string{"a", "b", "c"}) {
		t.Fatalf("去重顺序不正确：%v", ids(got))
	}
	want := map[string]domain.Status{"a": domain.StatusCurrent, "b": domain.StatusUpcoming, "c": domain.StatusEnded}
	for _, x := range got {
		if x.Status != want[x.ID] {
			t.Fatalf("%s 状态应为 %v，实际 %v", x.ID, want[x.ID], x.Status)
		}
	}
	if got[0].Title != "A current" {
		t.Fatalf("current 桶应优先：%q", got[0].Title)
	}
}

func TestTag_IgnoresTimestamps(t *testing.T) {
	// 时间戳显示“已结束”，但来自 currentFree：状态仍是 current。
	f := domain.Feed{CurrentFree: []domain.Game{g("x", "X", 0, base.AddDate(-1, 0, 0), base.AddDate(-1, 0, 7))}}
	if got := Tag(f); got[0].Status != domain.StatusCurrent {
		t.Fatalf("状态只应由桶决定：%v", got[0].Status)
	}
}

func TestFilter(t *testing.T) {
	games := []domain.Game{
		g("1", "Hollow Knight", domain.StatusCurrent, base, base),
		g("2", "Knights of Pen", domain.StatusEnded, base, base),
		g("3", "Celeste", domain.StatusUpcoming, base, base),
	}

	if got := ids(Filter(games, Query{Search: "  KNIGHT "})); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("默认应排除已结束：%v", got)
	}
	if got := ids(Filter(games, Query{Search: "knight", IncludeEnded: true})); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("包含已结束时应保留：%v", got)
	}
	if got := ids(Filter(games, Query{})); !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("空查询只按状态过滤：%v", got)
	}
}

func TestSortGames(t *testing.T) {
	d := func(n int) time.Time { return base.AddDate(0, 0, n) }
	games := []domain.Game{
		g("p-old", "Old", domain.StatusEnded, d(-30), d(-20)),
		g("u-late", "Late", domain.StatusUpcoming, d(9), d(16)),
		g("c-b", "beta", domain.StatusCurrent, d(-1), d(5)),
		g("p-new", "New", domain.StatusEnded, d(-10), d(-3)),
		g("c-a", "Alpha", domain.StatusCurrent, d(-1), d(5)),
		g("c-soon", "Zed", domain.StatusCurrent, d(-1), d(2)),
		g("u-soon", "Soon", domain.StatusUpcoming, d(3), d(10)),
	}

	got := SortGames(games)
	want := []string{"c-soon", "c-a", "c-b", "u-soon", "u-late", "p-new", "p-old"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("排序不正确：got=%v want=%v", ids(got), want)
	}
	if again := SortGames(got); !reflect.DeepEqual(ids(again), want) {
		t.Fatalf("排序应幂等：%v", ids(again))
	}
}

func TestDecode(t *testing.T) {
	f, err := Decode([]byte(`{"updated":"2025-01-10T00:00:00Z","currentFree":[{"id":"a","free_start":"2025-01-09","free_end":"2025-01-16"}]}`))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(f.CurrentFree) != 1 || !f.CurrentFree[0].FreePeriod.Valid() {
		t.Fatalf("解析结果不正确：%+v", f)
	}

	f, err = Decode([]byte(`{"updated":null,"currentFree":[{"id":"a"}],"upcoming":null,"past":null}`))
	if err != nil || len(f.CurrentFree) != 1 || len(f.Upcoming) != 0 || len(f.Past) != 0 {
		t.Fatalf("null 桶应按空处理：%+v %v", f, err)
	}

	// 采集端写出的文档必须能被展示端读回，包括只填了一个桶的情况。
	body, err := json.Marshal(domain.Feed{CurrentFree: []domain.Game{{ID: "a"}}})
	if err != nil {
		t.Fatalf("序列化失败：%v", err)
	}
	f, err = Decode(body)
	if err != nil {
		t.Fatalf("自身序列化结果应能解析：%v\n%s", err, body)
	}
	if len(f.CurrentFree) != 1 || f.CurrentFree[0].ID != "a" {
		t.Fatalf("读回内容不正确：%+v", f)
	}

	for _, raw := range []string{`{"currentFree":`, `[]`, `{"past":"nope"}`, `{"upcoming":[1,2]}`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("%s 应返回 ErrInvalidDocument，实际 %v", raw, err)
		}
	}
}

func TestLoader_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/games-free.json":
			_, _ = w.Write([]byte(`{"updated":"u","currentFree":[{"id":"a"}],"upcoming":[],"past":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := Loader{URL: srv.URL + "/data/games-free.json", Client: srv.Client()}.Fetch(context.Background())
	if err != nil || f.Updated != "u" || len(f.CurrentFree) != 1 {
		t.Fatalf("Fetch 不正确：%+v %v", f, err)
	}

	_, err = Loader{URL: srv.URL + "/missing.json", Client: srv.Client()}.Fetch(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("非 2xx 应返回 StatusError：%v", err)
	}
}

type fetchFunc func(ctx context.Context) (domain.Feed, error)

func (f fetchFunc) Fetch(ctx context.Context) (domain.Feed, error) { return f(ctx) }

func TestBoard_LoadFailureEmptiesList(t *testing.T) {
	ok := true
	b := NewBoard(fetchFunc(func(context.Context) (domain.Feed, error) {
		if ok {
			return domain.Feed{Updated: "u1", CurrentFree: []domain.Game{{ID: "a"}}}, nil
		}
		return domain.Feed{}, errors.New("offline")
	}), clockwork.NewFakeClockAt(base), zerolog.Nop())

	if applied, err := b.Load(context.Background()); !applied || err != nil {
		t.Fatalf("首次加载应成功：%v %v", applied, err)
	}
	if st := b.State(); len(st.Games) != 1 || st.Updated != "u1" || st.Err != nil {
		t.Fatalf("状态不正确：%+v", st)
	}

	ok = false
	if _, err := b.Load(context.Background()); err == nil {
		t.Fatalf("应返回加载错误")
	}
	st := b.State()
	if len(st.Games) != 0 || st.Err == nil || !st.Loaded {
		t.Fatalf("失败后列表应为空并记录错误：%+v", st)
	}
}

func TestBoard_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	b := NewBoard(fetchFunc(func(ctx context.Context) (domain.Feed, error) {
		slow, _ := ctx.Value(slowKey{}).(bool)
		started <- struct{}{}
		if slow {
			<-release
			return domain.Feed{Updated: "old"}, nil
		}
		return domain.Feed{Updated: "new"}, nil
	}), nil, zerolog.Nop())

	slowCtx := context.WithValue(context.Background(), slowKey{}, true)
	done := make(chan bool)
	go func() {
		applied, _ := b.Load(slowCtx)
		done <- applied
	}()
	<-started

	if applied, _ := b.Load(context.Background()); !applied {
		t.Fatalf("较新的加载应生效")
	}
	close(release)
	if applied := <-done; applied {
		t.Fatalf("较旧的加载结果应被丢弃")
	}
	if st := b.State(); st.Updated != "new" || st.Seq != 2 {
		t.Fatalf("应保留较新的结果：%+v", st)
	}
}

type slowKey struct{}

func TestBoard_Subscribe(t *testing.T) {
	b := NewBoard(fetchFunc(func(context.Context) (domain.Feed, error) {
		return domain.Feed{Updated: "u"}, nil
	}), nil, zerolog.Nop())
	ch, cancel := b.Subscribe()

	_, _ = b.Load(context.Background())
	_, _ = b.Load(context.Background())
	select {
	case st := <-ch:
		if st.Seq != 2 {
			t.Fatalf("应只保留最新通知：seq=%d", st.Seq)
		}
	default:
		t.Fatalf("应收到通知")
	}

	cancel()
	_, _ = b.Load(context.Background())
	select {
	case st := <-ch:
		t.Fatalf("cancel 后不应再收到通知：%+v", st)
	default:
	}
}

func TestBoard_SubscriberEndsOnCurrentState(t *testing.T) {
	b := NewBoard(fetchFunc(func(context.Context) (domain.Feed, error) {
		return domain.Feed{Updated: "u"}, nil
	}), nil, zerolog.Nop())
	ch, cancel := b.Subscribe()
	defer cancel()

	for round := 0; round < 200; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = b.Load(context.Background())
			}()
		}
		wg.Wait()

		var last State
		select {
		case last = <-ch:
		default:
			t.Fatalf("第 %d 轮应收到通知", round)
		}
		if cur := b.State(); last.Seq != cur.Seq {
			t.Fatalf("第 %d 轮订阅者停在旧状态：notified=%d current=%d", round, last.Seq, cur.Seq)
		}
	}
}
