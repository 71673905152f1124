package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	ItemRated      = "rated"
	ItemUnrated    = "unrated"
	ItemBackfilled = "backfilled"
	ItemFailed     = "failed"
)

const (
	ErrCodeFetchFailed       = "fetch_failed"
	ErrCodeParseFailed       = "parse_failed"
	ErrCodeRatingFailed      = "rating_failed"
	ErrCodeSaveFailed        = "save_failed"
	ErrCodeLoadFailed        = "load_failed"
	ErrCodeRenderFailed      = "render_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingRoot = "config_missing_web_root"
)

// CollectReport 是 collect 命令对外稳定输出（stdout JSON）的结构。
type CollectReport struct {
	Output string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary CollectSummary `json:"summary"`
	Items   []ItemResult   `json:"items"`
}

type CollectSummary struct {
	Fetched    int `json:"fetched"`
	Current    int `json:"current"`
	Upcoming   int `json:"upcoming"`
	Rated      int `json:"rated"`
	Unrated    int `json:"unrated"`
	Backfilled int `json:"backfilled"`
	Failed     int `json:"failed"`
}

type ItemResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Bucket string `json:"bucket"` // current / upcoming / past

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Sources []string `json:"sources"` // 命中的评分来源
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 稳定排序：按 id 字典序；id=="" 的合成条目排在最后
// 3) summary 由 items 计算得出（Fetched/Current/Upcoming 由调用方预先填好）
func (r *CollectReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].ID
		b := r.Items[j].ID
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	s := CollectSummary{
		Fetched:  r.Summary.Fetched,
		Current:  r.Summary.Current,
		Upcoming: r.Summary.Upcoming,
	}
	for _, it := range r.Items {
		switch it.Status {
		case ItemRated:
			s.Rated++
		case ItemUnrated:
			s.Unrated++
		case ItemBackfilled:
			s.Backfilled++
		case ItemFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

func (r CollectReport) MarshalJSON() ([]byte, error) {
	type Alias CollectReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	return json.Marshal(a)
}
