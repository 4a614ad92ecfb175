package memory

import (
	"regexp"
	"strings"
)

// Rejection reasons reported at debug level when a turn is dropped.
const (
	rejectTooShort      = "too_short"
	rejectStoplist      = "stoplist"
	rejectProviderError = "provider_error"
)

var (
	// Timestamp prefixes injected by upstream chat clients, e.g.
	// "[2024-01-01 10:00] hello" or "[2024-01-01 10:00:30]hello".
	timestampPrefixPattern = regexp.MustCompile(`^\s*\[\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?\]\s*`)

	// Speaker markers injected when messages are relayed through the bot,
	// e.g. "ta 私聊对你说：hello" or "张三对你说: hi".
	speakerMarkerPattern = regexp.MustCompile(`^\S{1,32}\s*(?:私聊对你说|对你说)\s*[:：]?\s*`)

	// Prompt boilerplate occasionally echoed back into the turn text.
	boilerplatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*(?:System|系统提示|系统)\s*[:：]\s*`),
		regexp.MustCompile(`(?i)^\s*you are a helpful assistant[.。]?\s*`),
	}
)

// providerErrorMarkers identify replies that are transport/provider failures
// echoed back as text. Such replies must never become long-term memory.
var providerErrorMarkers = []string{
	"API请求失败",
	"API 请求失败",
	"请求超时",
	"rate limit",
	"Rate limit",
	"service unavailable",
	"Service Unavailable",
	"抱歉，我现在无法",
	"当前服务繁忙",
	"Internal Server Error",
}

// stoplist holds conversational noise that carries no memory value.
var stoplist = map[string]struct{}{
	"ok":        {},
	"okay":      {},
	"ok了":       {},
	"thanks":    {},
	"thank you": {},
	"bye":       {},
	"hello":     {},
	"hi":        {},
	"好的":        {},
	"好":         {},
	"嗯":         {},
	"嗯嗯":        {},
	"哦":         {},
	"在吗":        {},
	"在":         {},
	"你好":        {},
	"谢谢":        {},
	"再见":        {},
	"哈哈":        {},
	"收到":        {},
}

// cleanText strips client-injected timestamps, relay markers and prompt
// boilerplate, leaving the text the speaker actually produced.
func cleanText(text string) string {
	out := timestampPrefixPattern.ReplaceAllString(text, "")
	out = speakerMarkerPattern.ReplaceAllString(out, "")
	for _, pattern := range boilerplatePatterns {
		out = pattern.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

// rejectTurn applies the dedup policy to a cleaned turn. An empty reason means
// the turn is acceptable.
func rejectTurn(speakerText, replyText string) string {
	if isProviderError(replyText) {
		return rejectProviderError
	}
	for _, side := range []string{speakerText, replyText} {
		if len([]rune(side)) < 5 {
			return rejectTooShort
		}
		if _, noise := stoplist[strings.ToLower(side)]; noise {
			return rejectStoplist
		}
	}
	return ""
}

func isProviderError(reply string) bool {
	for _, marker := range providerErrorMarkers {
		if strings.Contains(reply, marker) {
			return true
		}
	}
	return false
}
