package memory

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hrygo/recall/ai/llm"
)

// importanceKeywords covers identity, contact, preference and date vocabulary.
// A hit marks the turn worth long-term storage regardless of length.
var importanceKeywords = []string{
	// identity
	"我叫", "我是", "名字", "my name", "i am", "call me",
	// contact
	"电话", "手机", "号码", "地址", "邮箱", "微信", "phone", "address", "email", "wechat",
	// preference
	"喜欢", "讨厌", "不喜欢", "偏好", "爱好", "最爱", "like", "hate", "prefer", "favorite",
	// dates and commitments
	"生日", "纪念日", "约好", "记得", "提醒", "birthday", "anniversary", "remember", "remind",
	"deadline", "会议", "meeting", "schedule",
}

var (
	dateLikePattern = regexp.MustCompile(`\d{4}\s*[-/年.]\s*\d{1,2}\s*[-/月.]\s*\d{1,2}|\d{1,2}\s*[月/-]\s*\d{1,2}\s*[日号]?`)
	digitRunPattern = regexp.MustCompile(`\d{3,}`)
)

const importancePrompt = `判断下面这句话是否包含值得长期记住的个人信息（身份、联系方式、偏好、日期、承诺等）。只回答"是"或"否"。

句子：`

// ImportanceClassifier decides whether a turn deserves long-term storage.
// The rules run locally; a configured completion service may override them
// when its call succeeds.
type ImportanceClassifier struct {
	llm llm.Service // nil disables the override
}

// NewImportanceClassifier creates a classifier. svc may be nil.
func NewImportanceClassifier(svc llm.Service) *ImportanceClassifier {
	return &ImportanceClassifier{llm: svc}
}

// IsImportant applies the rule set, then lets the completion service override
// the verdict when the call succeeds. A failed call leaves the rule verdict.
func (c *ImportanceClassifier) IsImportant(ctx context.Context, text string) bool {
	verdict := ruleImportant(text)

	if c.llm == nil {
		return verdict
	}
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	answer, err := c.llm.Complete(callCtx, importancePrompt+text)
	if err != nil {
		slog.DebugContext(ctx, "importance override unavailable, keeping rule verdict",
			"verdict", verdict, "error", err)
		return verdict
	}
	if override, ok := parseVerdict(answer); ok {
		return override
	}
	return verdict
}

func ruleImportant(text string) bool {
	if len([]rune(text)) > 100 {
		return true
	}
	lower := strings.ToLower(text)
	for _, keyword := range importanceKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return dateLikePattern.MatchString(text) || digitRunPattern.MatchString(text)
}

func parseVerdict(answer string) (bool, bool) {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	// Negations first: "不是" must not read as "是".
	switch {
	case strings.Contains(normalized, "否") || strings.Contains(normalized, "不是") || strings.HasPrefix(normalized, "no"):
		return false, true
	case strings.Contains(normalized, "是") || strings.Contains(normalized, "yes"):
		return true, true
	default:
		return false, false
	}
}
