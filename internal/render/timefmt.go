package render

import (
	"fmt"
	"time"

	"github.com/John-Robertt/epicfree/internal/domain"
)

const (
	// EndedFallback 用于结束时间缺失或无法解析。
	EndedFallback = "Ended"
	// DateUnavailable 用于倒计时目标缺失或无法解析。
	DateUnavailable = "Date unavailable"
)

// FormatTimeSince 把“已结束多久”转成人类可读文本：
// <1h Just ended；<24h N hours ago；<7d N days ago；<30d Jan 2；否则 Jan 2, 2006。
func FormatTimeSince(end, now time.Time) string {
	if end.IsZero() {
		return EndedFallback
	}
	d := now.Sub(end)
	switch {
	case d < time.Hour:
		return "Just ended"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 7*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	case d < 30*24*time.Hour:
		return end.UTC().Format("Jan 2")
	default:
		return end.UTC().Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatCountdown 输出补零的 "00d 00h 01m 30s"；负数按 0 处理。
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := total % 86400 / 3600
	mins := total % 3600 / 60
	secs := total % 60
	return fmt.Sprintf("%02dd %02dh %02dm %02ds", days, hours, mins, secs)
}

// Countdown 计算 target 相对 now 的倒计时文本。
// ok=false 表示 target 无效（文本为 DateUnavailable）；expired 表示已到点。
func Countdown(target, now time.Time) (text string, expired, ok bool) {
	if target.IsZero() {
		return DateUnavailable, false, false
	}
	d := target.Sub(now)
	if d <= 0 {
		return FormatCountdown(0), true, true
	}
	return FormatCountdown(d), false, true
}

// FormatUpdated 渲染 feed 更新时间标签文本。
func FormatUpdated(updated string) string {
	t := domain.ParseTimestamp(updated)
	if t.IsZero() {
		return "Last updated: " + DateUnavailable
	}
	return "Last updated: " + t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
