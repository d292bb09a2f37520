package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/internal/telemetry"
	"github.com/BaSui01/reportflow/types"
)

// RequestRecorder 接收每次模型调用的指标，internal/metrics.Collector 实现了它
type RequestRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider 为 Provider 加上 span、指标和调用日志
type InstrumentedProvider struct {
	inner    Provider
	recorder RequestRecorder
	logger   *zap.Logger
}

// NewInstrumentedProvider 包装 provider。recorder 可为 nil。
func NewInstrumentedProvider(inner Provider, recorder RequestRecorder, logger *zap.Logger) *InstrumentedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedProvider{
		inner:    inner,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "llm"), zap.String("provider", inner.Name())),
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *InstrumentedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := ""
	if req != nil {
		model = req.Model
	}
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", p.inner.Name()),
		attribute.String("llm.model", model),
	}
	logger := p.logger
	if runID, ok := types.RunID(ctx); ok {
		attrs = append(attrs, attribute.String("workflow.run_id", runID))
		logger = logger.With(zap.String("run_id", runID))
	}
	ctx, span := telemetry.Tracer().Start(ctx, "llm.completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)
	elapsed := time.Since(start)

	status := "success"
	var usage ChatUsage
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("completion failed",
			zap.String("model", model),
			zap.Duration("latency", elapsed),
			zap.Bool("retryable", IsRetryable(err)),
			zap.Error(err))
	} else {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", usage.PromptTokens),
			attribute.Int("llm.completion_tokens", usage.CompletionTokens),
		)
		logger.Debug("completion finished",
			zap.String("model", model),
			zap.Duration("latency", elapsed),
			zap.Int("total_tokens", usage.TotalTokens))
	}

	if p.recorder != nil {
		p.recorder.RecordLLMRequest(p.inner.Name(), model, status, elapsed, usage.PromptTokens, usage.CompletionTokens)
	}
	return resp, err
}
