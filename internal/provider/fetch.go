package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/John-Robertt/epicfree/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释回退原因）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Error 是 provider 阶段的可追溯错误。
// 上层据此把失败归类为 fetch_failed / parse_failed / rating_failed。
type Error struct {
	Provider string
	Stage    string // "fetch" / "parse" / "rating"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchGames 按 sources 顺序抓取并解析促销列表，第一个成功的来源胜出。
//
// 返回值：
// - games：解析出的游戏（顺序与上游一致）
// - used：最终成功的 provider name
// - attempts：尝试链路（包括失败的来源）
func FetchGames(ctx context.Context, sources []GameSource, c *http.Client) (games []domain.Game, used string, attempts []Attempt, err error) {
	if len(sources) == 0 {
		return nil, "", nil, fmt.Errorf("无可用 provider")
	}

	var lastErr error
	for _, src := range sources {
		name := src.Name()

		raw, sourceURL, ferr := src.Fetch(ctx, c)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			if ctx.Err() != nil {
				return nil, "", attempts, lastErr
			}
			continue
		}

		gs, perr := src.Parse(raw, sourceURL)
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return gs, name, attempts, nil
	}
	return nil, "", attempts, lastErr
}
