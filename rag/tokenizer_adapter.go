package rag

import (
	"go.uber.org/zap"

	lltok "github.com/BaSui01/reportflow/llm/tokenizer"
)

// LLMTokenizerAdapter 将 llm/tokenizer.Tokenizer 适配为 rag.Tokenizer 接口。
// 当底层 tokenizer 返回 error 时，回退到字符估算并记录警告日志。
type LLMTokenizerAdapter struct {
	inner  lltok.Tokenizer
	logger *zap.Logger
}

// NewLLMTokenizerAdapter 创建适配器。
func NewLLMTokenizerAdapter(inner lltok.Tokenizer, logger *zap.Logger) *LLMTokenizerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMTokenizerAdapter{inner: inner, logger: logger}
}

// CountTokens 返回文本的 token 数。
func (a *LLMTokenizerAdapter) CountTokens(text string) int {
	count, err := a.inner.CountTokens(text)
	if err != nil {
		a.logger.Warn("tokenizer CountTokens failed, falling back to estimate",
			zap.String("tokenizer", a.inner.Name()),
			zap.Error(err))
		return (len(text) + 3) / 4
	}
	return count
}

// NewModelTokenizer 返回 model 对应的 rag.Tokenizer：已注册的 tiktoken 编码优先，
// 否则使用 CJK 感知的估算器。
func NewModelTokenizer(model string, logger *zap.Logger) Tokenizer {
	return NewLLMTokenizerAdapter(lltok.ForModel(model), logger)
}
