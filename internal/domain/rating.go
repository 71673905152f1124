package domain

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// ExcellentThreshold / GoodThreshold 作用于 0-100 归一化分数。
	ExcellentThreshold = 75
	GoodThreshold      = 50
)

// RatingSource 是封闭的评分来源枚举；顺序即渲染顺序。
type RatingSource int

const (
	SourceMetacritic RatingSource = iota
	SourceSteam
	SourceOpenCritic
	SourceEpic
)

// RatingSources 按渲染顺序列出全部来源。
var RatingSources = []RatingSource{SourceMetacritic, SourceSteam, SourceOpenCritic, SourceEpic}

// Scale 是来源的原生分值区间 [Min, Max]。
type Scale struct {
	Min float64
	Max float64
}

// SourceConfig 是单个来源的静态配置。
type SourceConfig struct {
	Key    string // feed 中的字段名
	Icon   string
	Name   string
	Scale  Scale
	Format func(v float64) string
}

func formatInt(v float64) string     { return strconv.Itoa(int(math.Round(v))) }
func formatPercent(v float64) string { return strconv.Itoa(int(math.Round(v))) + "%" }
func formatOneDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Config 返回来源配置。switch 必须覆盖全部枚举值。
func (s RatingSource) Config() SourceConfig {
	switch s {
	case SourceMetacritic:
		return SourceConfig{Key: "metacritic", Icon: "M", Name: "Metacritic", Scale: Scale{0, 100}, Format: formatInt}
	case SourceSteam:
		return SourceConfig{Key: "steam", Icon: "S", Name: "Steam", Scale: Scale{0, 100}, Format: formatPercent}
	case SourceOpenCritic:
		return SourceConfig{Key: "opencritic", Icon: "O", Name: "OpenCritic", Scale: Scale{0, 100}, Format: formatInt}
	case SourceEpic:
		return SourceConfig{Key: "epic", Icon: "E", Name: "Epic", Scale: Scale{0, 5}, Format: formatOneDecimal}
	default:
		panic(fmt.Sprintf("未知评分来源：%d", int(s)))
	}
}

func (s RatingSource) String() string { return s.Config().Key }

// NormalizeScore 把原生分值线性映射到 0-100。
func NormalizeScore(v float64, sc Scale) float64 {
	span := sc.Max - sc.Min
	if span <= 0 {
		return v
	}
	return (v - sc.Min) / span * 100
}

// Tier 是归一化分数对应的等级。
type Tier int

const (
	TierPoor Tier = iota
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "Excellent"
	case TierGood:
		return "Good"
	default:
		return "Poor"
	}
}

// tierThresholds 必须按阈值降序排列。
var tierThresholds = []struct {
	min  float64
	tier Tier
}{
	{ExcellentThreshold, TierExcellent},
	{GoodThreshold, TierGood},
}

// TierFor 做降序阈值查找：>=75 Excellent，>=50 Good，其余 Poor。
func TierFor(normalized float64) Tier {
	for _, th := range tierThresholds {
		if normalized >= th.min {
			return th.tier
		}
	}
	return TierPoor
}

// Rating 是一条游戏的多来源评分（各来源原生分值）。
type Rating struct {
	Metacritic *float64 `json:"metacritic"`
	Steam      *float64 `json:"steam"`
	OpenCritic *float64 `json:"opencritic"`
	Epic       *float64 `json:"epic"`

	// ScoreColor 由采集端写入（green/yellow/red），展示端不依赖它。
	ScoreColor string `json:"scoreColor,omitempty"`
}

func (r *Rating) field(s RatingSource) **float64 {
	switch s {
	case SourceMetacritic:
		return &r.Metacritic
	case SourceSteam:
		return &r.Steam
	case SourceOpenCritic:
		return &r.OpenCritic
	case SourceEpic:
		return &r.Epic
	default:
		panic(fmt.Sprintf("未知评分来源：%d", int(s)))
	}
}

// Score 返回某来源的原生分值；nil Rating 视为全部缺失。
func (r *Rating) Score(s RatingSource) (float64, bool) {
	if r == nil {
		return 0, false
	}
	p := *r.field(s)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set 写入某来源分值。
func (r *Rating) Set(s RatingSource, v float64) {
	*r.field(s) = &v
}

// HasAny 判断是否至少有一个来源有分值。
func (r *Rating) HasAny() bool {
	for _, s := range RatingSources {
		if _, ok := r.Score(s); ok {
			return true
		}
	}
	return false
}

// Validate 校验每个已有分值都落在来源区间内。
func (r *Rating) Validate() error {
	for _, s := range RatingSources {
		v, ok := r.Score(s)
		if !ok {
			continue
		}
		cfg := s.Config()
		if v < cfg.Scale.Min || v > cfg.Scale.Max || math.IsNaN(v) {
			return fmt.Errorf("%s 必须在 %g-%g 之间：%g", cfg.Key, cfg.Scale.Min, cfg.Scale.Max, v)
		}
	}
	return nil
}

// Normalized 返回所有已有分值的 0-100 归一化结果。
func (r *Rating) Normalized() map[RatingSource]float64 {
	out := make(map[RatingSource]float64, len(RatingSources))
	for _, s := range RatingSources {
		if v, ok := r.Score(s); ok {
			out[s] = NormalizeScore(v, s.Config().Scale)
		}
	}
	return out
}

// AggregateScore 是归一化分数的加权平均；weights 为 nil 时等权。
func (r *Rating) AggregateScore(weights map[RatingSource]float64) float64 {
	norm := r.Normalized()
	if len(norm) == 0 {
		return 0
	}
	var total, sum float64
	for s, v := range norm {
		w := 1.0
		if weights != nil {
			w = weights[s]
		}
		total += w
		sum += v * w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// Color 给出总体颜色：优先 opencritic，其次 metacritic、steam，最后用加权平均。
func (r *Rating) Color() string {
	score := 0.0
	switch {
	case r.OpenCritic != nil:
		score = *r.OpenCritic
	case r.Metacritic != nil:
		score = *r.Metacritic
	case r.Steam != nil:
		score = *r.Steam
	default:
		score = r.AggregateScore(nil)
	}
	switch TierFor(score) {
	case TierExcellent:
		return "green"
	case TierGood:
		return "yellow"
	default:
		return "red"
	}
}
