package collect

import (
	"time"

	"github.com/John-Robertt/epicfree/internal/config"
	"github.com/John-Robertt/epicfree/internal/domain"
)

// Observer 用于把“采集进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - collect 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 Execute 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（fetch / enrich / save / backfill）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在单个游戏评分查询完成时调用。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnProgress 用于 keepalive（由 CLI 自己的 ticker 触发；collect 层不调用）。
	OnProgress(done, total, ok, fail, active int, activeTitles []string, elapsed time.Duration)
}

// nopObserver 让执行流程不必到处判空。
type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                              {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)           {}
func (nopObserver) OnItemDone(int, int, domain.ItemResult, time.Duration)       {}
func (nopObserver) OnProgress(int, int, int, int, int, []string, time.Duration) {}
