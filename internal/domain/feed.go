package domain

import (
	"encoding/json"
	"time"
)

// Feed 是 games-free.json 的结构（采集端写、展示端读）。
type Feed struct {
	Updated     string `json:"updated"`
	CurrentFree []Game `json:"currentFree"`
	Upcoming    []Game `json:"upcoming"`
	Past        []Game `json:"past"`
}

// UpdatedAt 解析 updated；缺失或非法时 ok=false。
func (f Feed) UpdatedAt() (time.Time, bool) {
	t := ParseTimestamp(f.Updated)
	return t, !t.IsZero()
}

// MarshalJSON 把 nil 桶写成 []，读端不必区分 null 与空数组。
func (f Feed) MarshalJSON() ([]byte, error) {
	type Alias Feed
	a := Alias(f)
	if a.CurrentFree == nil {
		a.CurrentFree = []Game{}
	}
	if a.Upcoming == nil {
		a.Upcoming = []Game{}
	}
	if a.Past == nil {
		a.Past = []Game{}
	}
	return json.Marshal(a)
}
