package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/llm/tokenizer"
)

type fakeProvider struct {
	mu       sync.Mutex
	requests []*ChatRequest
	reply    string
	err      error
	empty    bool
}

func (f *fakeProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return &ChatResponse{}, nil
	}
	return &ChatResponse{
		Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: f.reply}}},
		Usage:   ChatUsage{PromptTokens: 10, CompletionTokens: 3},
	}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func TestProviderGenerator_Generate(t *testing.T) {
	p := &fakeProvider{reply: "  Revenue grew 12%.  "}
	g := NewProviderGenerator(p, nil, GeneratorConfig{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You write reports.",
		MaxTokens:    256,
	}, zap.NewNop())

	out, err := g.Generate(context.Background(), "Write the summary.", "[1] revenue +12%")
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12%.", out)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Context:\n[1] revenue +12%\n\nWrite the summary.", req.Messages[1].Content)
}

func TestProviderGenerator_NoContext(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	g := NewProviderGenerator(p, tokenizer.NewEstimator("test", 1000), GeneratorConfig{}, nil)

	_, err := g.Generate(context.Background(), "just the prompt", "   ")
	require.NoError(t, err)
	require.Len(t, p.requests[0].Messages, 1)
	assert.Equal(t, "just the prompt", p.requests[0].Messages[0].Content)
}

func TestProviderGenerator_ContextBudget(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	tok := tokenizer.NewEstimator("test", 100000)
	g := NewProviderGenerator(p, tok, GeneratorConfig{ContextBudget: 20}, zap.NewNop())

	long := strings.Repeat("evidence sentence. ", 200)
	_, err := g.Generate(context.Background(), "summarise", long)
	require.NoError(t, err)

	sent := p.requests[0].Messages[0].Content
	ctxPart := strings.TrimSuffix(strings.TrimPrefix(sent, "Context:\n"), "\n\nsummarise")
	assert.Less(t, len(ctxPart), len(long))
	n, err := tok.CountTokens(ctxPart)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 20)
}

// failingTokenizer 模拟编码数据无法加载的 tiktoken
type failingTokenizer struct{}

func (failingTokenizer) CountTokens(string) (int, error) { return 0, errors.New("encoding unavailable") }
func (failingTokenizer) MaxTokens() int                  { return 128000 }
func (failingTokenizer) Name() string                    { return "tiktoken[o200k_base]" }

func TestProviderGenerator_ContextBudgetSurvivesTokenizerFailure(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	g := NewProviderGenerator(p, failingTokenizer{}, GeneratorConfig{ContextBudget: 10}, zap.NewNop())

	long := strings.Repeat("证据 evidence ", 100)
	_, err := g.Generate(context.Background(), "summarise", long)
	require.NoError(t, err)

	sent := p.requests[0].Messages[0].Content
	ctxPart := strings.TrimSuffix(strings.TrimPrefix(sent, "Context:\n"), "\n\nsummarise")
	assert.True(t, strings.HasPrefix(long, ctxPart))
	n, _ := tokenizer.NewEstimator("", 0).CountTokens(ctxPart)
	assert.LessOrEqual(t, n, 10)
	assert.NotEmpty(t, ctxPart)
}

func TestProviderGenerator_Errors(t *testing.T) {
	upstream := &Error{Code: ErrRateLimited, Message: "slow down", Retryable: true}
	g := NewProviderGenerator(&fakeProvider{err: upstream}, nil, GeneratorConfig{}, zap.NewNop())
	_, err := g.Generate(context.Background(), "p", "")
	assert.ErrorIs(t, err, upstream)
	assert.True(t, IsRetryable(err))

	g = NewProviderGenerator(&fakeProvider{empty: true}, nil, GeneratorConfig{}, zap.NewNop())
	_, err = g.Generate(context.Background(), "p", "")
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrEmptyResponse, llmErr.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(&Error{Code: ErrUnauthorized}))
}
