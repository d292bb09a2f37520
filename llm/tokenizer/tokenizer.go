package tokenizer

import (
	"fmt"
	"sync"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// 全局分词器注册表.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer 返回为给定模型注册的分词器，找不到时尝试最长前缀匹配
// (如 "gpt-4o" 匹配 "gpt-4o-mini-2024").
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	var best Tokenizer
	bestLen := 0
	for prefix, t := range modelTokenizers {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// ForModel 返回该模型的注册分词器，没有登记时回到 CJK 感知的估算器。
func ForModel(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimator(model, 0)
	}
	return t
}

// Truncate 截断 text 使其不超过 budget 个 token，保留开头部分。
// Estimator 一次遍历得到前缀，其它分词器按字符二分。
func Truncate(t Tokenizer, text string, budget int) (string, error) {
	if budget <= 0 {
		return "", nil
	}
	if e, ok := t.(*Estimator); ok {
		return e.Prefix(text, budget), nil
	}
	n, err := t.CountTokens(text)
	if err != nil {
		return text, err
	}
	if n <= budget {
		return text, nil
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		c, err := t.CountTokens(string(runes[:mid]))
		if err != nil {
			return text, err
		}
		if c <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), nil
}
