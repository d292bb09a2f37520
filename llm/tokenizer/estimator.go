package tokenizer

import "unicode"

// 估算以 1/12 token 为单位：CJK 字符约 1.5 字符/token，其余约 4 字符/token
const (
	unitsPerToken = 12
	cjkUnits      = 8
	otherUnits    = 3
)

// defaultEstimatorWindow 未知模型的上下文长度
const defaultEstimatorWindow = 8192

// Estimator 不依赖词表的 token 估算器。
// 用于没有登记 tiktoken 编码的模型（OpenAI 兼容的本地模型等），
// 也是生成器在编码数据加载失败时截断上下文的后备。
type Estimator struct {
	model     string
	maxTokens int
}

// NewEstimator 创建估算器，maxTokens <= 0 时使用 8192
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = defaultEstimatorWindow
	}
	return &Estimator{model: model, maxTokens: maxTokens}
}

// CountTokens 向上取整的估算值，非空文本至少为 1
func (e *Estimator) CountTokens(text string) (int, error) {
	units := 0
	for _, r := range text {
		units += runeUnits(r)
	}
	return (units + unitsPerToken - 1) / unitsPerToken, nil
}

// Prefix 返回估算不超过 budget 个 token 的最长前缀。只遍历一次，
// Truncate 遇到 Estimator 时直接用它而不做二分。
func (e *Estimator) Prefix(text string, budget int) string {
	limit := budget * unitsPerToken
	units := 0
	for i, r := range text {
		units += runeUnits(r)
		if units > limit {
			return text[:i]
		}
	}
	return text
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }

func (e *Estimator) Name() string { return "estimator" }

func runeUnits(r rune) int {
	if isCJK(r) {
		return cjkUnits
	}
	return otherUnits
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303F) || // CJK 标点
		(r >= 0xFF00 && r <= 0xFFEF) // 全角字符
}
