package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/llm"
)

// Intent 请求意图
type Intent string

const (
	IntentReport  Intent = "report"
	IntentChat    Intent = "chat"
	IntentUnknown Intent = "unknown"
)

// Classification 分类结果
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Classifier 意图分类
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

// ClassifierFunc 函数适配器
type ClassifierFunc func(ctx context.Context, text string) (*Classification, error)

// Classify 实现 Classifier
func (f ClassifierFunc) Classify(ctx context.Context, text string) (*Classification, error) {
	return f(ctx, text)
}

// =============================================================================
// LLM 分类
// =============================================================================

const classifierPrompt = `Classify the user's message into one of these intents: %s.
Use "report" when the user wants a written report or analysis backed by documents,
"chat" for greetings and small talk, "unknown" when you cannot tell.
Answer with JSON only: {"intent": string, "confidence": number between 0 and 1, "reason": string}.`

// LLMClassifier 用模型做意图分类
type LLMClassifier struct {
	provider llm.Provider
	model    string
	intents  []Intent
	logger   *zap.Logger
}

// NewLLMClassifier 创建 LLM 分类器
func NewLLMClassifier(provider llm.Provider, model string, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{
		provider: provider,
		model:    model,
		intents:  []Intent{IntentReport, IntentChat, IntentUnknown},
		logger:   logger.With(zap.String("component", "llm_classifier")),
	}
}

// Classify 实现 Classifier
func (c *LLMClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	names := make([]string, len(c.intents))
	for i, in := range c.intents {
		names[i] = string(in)
	}
	resp, err := c.provider.Completion(ctx, &llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: fmt.Sprintf(classifierPrompt, strings.Join(names, ", "))},
			{Role: llm.RoleUser, Content: text},
		},
		MaxTokens:   128,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	content, err := resp.FirstContent()
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	cls, err := parseClassification(content, c.intents)
	if err != nil {
		c.logger.Warn("unparseable classification", zap.String("content", content), zap.Error(err))
		return nil, err
	}
	return cls, nil
}

// parseClassification 解析模型输出；未登记的意图归为 unknown，置信度截断到 [0,1]
func parseClassification(content string, known []Intent) (*Classification, error) {
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, errors.New("classification is not a JSON object")
	}
	var cls Classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &cls); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	cls.Intent = Intent(strings.ToLower(strings.TrimSpace(string(cls.Intent))))
	valid := false
	for _, k := range known {
		if cls.Intent == k {
			valid = true
			break
		}
	}
	if !valid {
		cls.Intent = IntentUnknown
	}
	switch {
	case cls.Confidence < 0:
		cls.Confidence = 0
	case cls.Confidence > 1:
		cls.Confidence = 1
	}
	return &cls, nil
}

// =============================================================================
// 关键词分类
// =============================================================================

// KeywordClassifier 确定性的关键词分类，模型不可用时兜底
type KeywordClassifier struct {
	keywords map[Intent][]string
}

// DefaultKeywords 默认关键词表
func DefaultKeywords() map[Intent][]string {
	return map[Intent][]string{
		IntentReport: {"report", "analysis", "analyze", "analyse", "summary", "summarize", "summarise", "review", "findings", "报告", "分析", "总结", "汇总"},
		IntentChat:   {"hi", "hello", "hey", "thanks", "thank you", "how are you", "你好", "谢谢", "在吗"},
	}
}

// NewKeywordClassifier 创建关键词分类器，keywords 为 nil 时使用 DefaultKeywords
func NewKeywordClassifier(keywords map[Intent][]string) *KeywordClassifier {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	return &KeywordClassifier{keywords: keywords}
}

// Classify 实现 Classifier。命中唯一意图时置信度 0.8，多个意图并列时取命中最多者、置信度 0.5。
func (c *KeywordClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		words[w] = struct{}{}
	}

	intents := make([]Intent, 0, len(c.keywords))
	for intent := range c.keywords {
		intents = append(intents, intent)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })

	best, bestScore, matched := IntentUnknown, 0, 0
	for _, intent := range intents {
		score := 0
		for _, kw := range c.keywords[intent] {
			if keywordHit(lower, words, kw) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		matched++
		if score > bestScore {
			best, bestScore = intent, score
		}
	}

	switch {
	case bestScore == 0:
		return &Classification{Intent: IntentUnknown, Confidence: 0, Reason: "no keyword matched"}, nil
	case matched == 1:
		return &Classification{Intent: best, Confidence: 0.8, Reason: "keyword match"}, nil
	default:
		return &Classification{Intent: best, Confidence: 0.5, Reason: "ambiguous keyword match"}, nil
	}
}

// keywordHit ASCII 关键词按整词匹配，多词短语与中文关键词按子串匹配
func keywordHit(lower string, words map[string]struct{}, kw string) bool {
	if strings.ContainsRune(kw, ' ') || !isASCII(kw) {
		return strings.Contains(lower, kw)
	}
	_, ok := words[kw]
	return ok
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// =============================================================================
// 兜底组合
// =============================================================================

// FallbackClassifier primary 出错时改用 fallback
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *zap.Logger
}

// NewFallbackClassifier 创建组合分类器
func NewFallbackClassifier(primary, fallback Classifier, logger *zap.Logger) *FallbackClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackClassifier{primary: primary, fallback: fallback, logger: logger.With(zap.String("component", "classifier"))}
}

// Classify 实现 Classifier
func (c *FallbackClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	cls, err := c.primary.Classify(ctx, text)
	if err == nil {
		return cls, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	c.logger.Warn("intent classification failed, using fallback classifier", zap.Error(err))
	return c.fallback.Classify(ctx, text)
}
