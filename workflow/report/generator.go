package report

import (
	"context"
	"strings"
)

// Generator 文本生成服务。调用必须在 stage 超时内返回，
// 超时由执行器按瞬时故障重试。
type Generator interface {
	Generate(ctx context.Context, prompt, contextText string) (string, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, prompt, contextText string) (string, error)

// Generate 实现 Generator
func (f GeneratorFunc) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	return f(ctx, prompt, contextText)
}

// ExtractiveGenerator 不调用模型：有上下文时原样返回上下文，否则返回 prompt。
// 没有配置模型服务时用它跑通整个工作流，草稿就是检索到的证据。
type ExtractiveGenerator struct{}

// Generate 实现 Generator
func (ExtractiveGenerator) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(contextText) != "" {
		return contextText, nil
	}
	return prompt, nil
}
