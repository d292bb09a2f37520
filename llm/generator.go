package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/llm/tokenizer"
)

// GeneratorConfig ProviderGenerator 配置
type GeneratorConfig struct {
	Model        string  `json:"model" yaml:"model"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature  float32 `json:"temperature" yaml:"temperature"`
	// ContextBudget 上下文最多占用的 token 数，0 表示不限制
	ContextBudget int `json:"context_budget" yaml:"context_budget"`
}

// ProviderGenerator 基于 Provider 的文本生成：prompt 作为用户消息，
// 上下文按 token 预算截断后放在 prompt 前面。
type ProviderGenerator struct {
	provider  Provider
	tokenizer tokenizer.Tokenizer
	config    GeneratorConfig
	logger    *zap.Logger
}

// NewProviderGenerator 创建生成器。tok 为 nil 时按模型选择分词器。
func NewProviderGenerator(provider Provider, tok tokenizer.Tokenizer, config GeneratorConfig, logger *zap.Logger) *ProviderGenerator {
	if tok == nil {
		tok = tokenizer.ForModel(config.Model)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderGenerator{
		provider:  provider,
		tokenizer: tok,
		config:    config,
		logger:    logger.With(zap.String("component", "generator"), zap.String("provider", provider.Name())),
	}
}

// Generate 生成文本
func (g *ProviderGenerator) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	if g.config.ContextBudget > 0 {
		contextText = g.fitContext(contextText)
	}

	user := prompt
	if strings.TrimSpace(contextText) != "" {
		user = "Context:\n" + contextText + "\n\n" + prompt
	}
	msgs := make([]Message, 0, 2)
	if g.config.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: g.config.SystemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})

	resp, err := g.provider.Completion(ctx, &ChatRequest{
		Model:       g.config.Model,
		Messages:    msgs,
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	})
	if err != nil {
		return "", err
	}
	text, err := resp.FirstContent()
	if err != nil {
		return "", err
	}
	g.logger.Debug("generation completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return strings.TrimSpace(text), nil
}

// fitContext 把上下文截到 ContextBudget 以内。分词器不可用（如离线时
// tiktoken 取不到编码）时改用估算器截断，预算仍然生效。
func (g *ProviderGenerator) fitContext(contextText string) string {
	trimmed, err := tokenizer.Truncate(g.tokenizer, contextText, g.config.ContextBudget)
	if err != nil {
		g.logger.Warn("tokenizer unavailable, truncating context by estimate",
			zap.String("tokenizer", g.tokenizer.Name()), zap.Error(err))
		trimmed = tokenizer.NewEstimator(g.config.Model, 0).Prefix(contextText, g.config.ContextBudget)
	}
	if len(trimmed) < len(contextText) {
		g.logger.Debug("context truncated",
			zap.Int("from_bytes", len(contextText)),
			zap.Int("to_bytes", len(trimmed)))
	}
	return trimmed
}
