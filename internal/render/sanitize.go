package render

import (
	"html"
	"net/url"
	"strings"
)

// SafeURLPlaceholder 是被拒绝链接的替代值。
const SafeURLPlaceholder = "#"

// blockedSchemes 是明确拒绝的协议；白名单之外的协议同样会被拒绝。
var blockedSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"vbscript":   true,
	"file":       true,
}

// EscapeHTML 转义 & < > " '，用于把外部数据放进文本节点或属性值。
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// SanitizeURL 只放行带 host 的 http/https 绝对地址，返回转义后的原值；
// 其他情况（相对地址、解析失败、危险协议）返回 "#"。
func SanitizeURL(raw string) string {
	return EscapeHTML(safeURL(raw))
}

// safeURL 是 SanitizeURL 的未转义版本，供模板使用（模板自行按属性上下文转义）。
func safeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SafeURLPlaceholder
	}
	u, err := url.Parse(raw)
	if err != nil {
		return SafeURLPlaceholder
	}
	scheme := strings.ToLower(u.Scheme)
	if blockedSchemes[scheme] {
		return SafeURLPlaceholder
	}
	if scheme != "http" && scheme != "https" {
		return SafeURLPlaceholder
	}
	if u.Host == "" {
		return SafeURLPlaceholder
	}
	return raw
}
