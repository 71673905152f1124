package feed

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// State 是 Board 的一次快照。Games 已打标去重，未过滤未排序。
type State struct {
	Games   []domain.Game
	Updated string // feed 自报的更新时间（原样）
	Err     error  // 最近一次加载失败的原因；成功时为 nil
	Loaded  bool   // 至少完成过一次加载（无论成败）

	Seq      uint64
	LoadedAt time.Time
}

// Board 持有当前游戏列表。
//
// 并发约束：每次 Load 开始时领取递增序号，只有比已应用序号更新的结果才会生效，
// 因此较慢的旧请求不会覆盖较新的结果，也不会晚于较新的结果通知订阅者。
// Load 之间互不取消。
type Board struct {
	Source Fetcher
	Clock  clockwork.Clock
	Log    zerolog.Logger

	mu      sync.RWMutex
	next    uint64
	applied uint64
	state   State
	subs    map[int]chan State
	subID   int
}

func NewBoard(src Fetcher, clock clockwork.Clock, log zerolog.Logger) *Board {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Board{Source: src, Clock: clock, Log: log}
}

// Load 取一次 feed 并替换列表。失败时列表置空并记录错误，不自动重试。
// applied=false 表示结果因过期被丢弃。
func (b *Board) Load(ctx context.Context) (applied bool, err error) {
	b.mu.Lock()
	b.next++
	seq := b.next
	b.mu.Unlock()

	f, err := b.Source.Fetch(ctx)

	st := State{Seq: seq, Loaded: true, LoadedAt: b.Clock.Now()}
	if err != nil {
		st.Err = err
		st.Games = []domain.Game{}
	} else {
		st.Games = Tag(f)
		st.Updated = f.Updated
	}

	b.mu.Lock()
	if seq <= b.applied {
		cur := b.applied
		b.mu.Unlock()
		b.Log.Debug().Uint64("seq", seq).Uint64("applied", cur).Msg("丢弃过期的 feed 加载结果")
		return false, err
	}
	b.applied = seq
	b.state = st
	// 通知在锁内发送（均为非阻塞），订阅者最后收到的总是当前状态。
	for _, ch := range b.subs {
		// 只保留最新一次：订阅者慢时丢弃旧通知。
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
	b.mu.Unlock()

	if err != nil {
		b.Log.Error().Err(err).Uint64("seq", seq).Msg("加载 feed 失败")
	} else {
		b.Log.Info().Int("games", len(st.Games)).Str("updated", st.Updated).Uint64("seq", seq).Msg("feed 已加载")
	}
	return true, err
}

// State 返回当前快照。Games 是副本。
func (b *Board) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := b.state
	st.Games = append([]domain.Game(nil), b.state.Games...)
	return st
}

// Subscribe 返回一个在每次应用新状态时收到通知的 channel（容量 1）；cancel 后不再通知。
func (b *Board) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = map[int]chan State{}
	}
	b.subID++
	id := b.subID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
