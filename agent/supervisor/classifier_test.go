package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/testutil"
	"github.com/BaSui01/reportflow/testutil/mocks"
)

func TestLLMClassifier(t *testing.T) {
	p := mocks.NewMockProvider().WithResponse(`{"intent":"Report","confidence":0.93,"reason":"asks for analysis"}`)
	c := NewLLMClassifier(p, "gpt-4o-mini", zap.NewNop())

	cls, err := c.Classify(testutil.TestContext(t), "analyse q3 revenue")
	require.NoError(t, err)
	assert.Equal(t, IntentReport, cls.Intent)
	assert.InDelta(t, 0.93, cls.Confidence, 1e-9)

	last := p.LastRequest()
	require.NotNil(t, last)
	assert.True(t, last.JSONMode)
	assert.Equal(t, "gpt-4o-mini", last.Model)
	assert.Equal(t, "analyse q3 revenue", last.Messages[1].Content)
}

func TestLLMClassifier_Errors(t *testing.T) {
	c := NewLLMClassifier(mocks.NewMockProvider().WithError(errors.New("503")), "", nil)
	_, err := c.Classify(context.Background(), "x")
	assert.Error(t, err)

	c = NewLLMClassifier(mocks.NewMockProvider().WithResponse("I think it's a report"), "", nil)
	_, err = c.Classify(context.Background(), "x")
	assert.Error(t, err)
}

func TestLLMClassifier_FallsBackAfterProviderFailure(t *testing.T) {
	p := mocks.NewMockProvider().
		WithResponse(`{"intent":"Chat","confidence":0.8}`).
		WithFailAfter(1)
	c := NewFallbackClassifier(NewLLMClassifier(p, "", nil), NewKeywordClassifier(nil), nil)

	cls, err := c.Classify(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, IntentChat, cls.Intent)

	// 第二次调用 provider 失败，关键词分类接手
	cls, err = c.Classify(context.Background(), "write a report on q3 churn")
	require.NoError(t, err)
	assert.Equal(t, IntentReport, cls.Intent)
	assert.Equal(t, 2, p.CallCount())
}

func TestParseClassification(t *testing.T) {
	known := []Intent{IntentReport, IntentChat, IntentUnknown}

	cls, err := parseClassification("```json\n{\"intent\":\"weather\",\"confidence\":2}\n```", known)
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, cls.Intent)
	assert.Equal(t, 1.0, cls.Confidence)

	cls, err = parseClassification(`{"intent":" chat ","confidence":-1}`, known)
	require.NoError(t, err)
	assert.Equal(t, IntentChat, cls.Intent)
	assert.Zero(t, cls.Confidence)

	_, err = parseClassification(`{"intent":`, known)
	assert.Error(t, err)
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)
	ctx := context.Background()

	tests := []struct {
		text       string
		intent     Intent
		confidence float64
	}{
		{"Please write a report on Q3 revenue", IntentReport, 0.8},
		{"帮我做一份销售分析报告", IntentReport, 0.8},
		{"hello!", IntentChat, 0.8},
		{"thank you so much", IntentChat, 0.8},
		{"this is a high priority", IntentUnknown, 0},
		{"hi, can you summarize the findings?", IntentReport, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cls, err := c.Classify(ctx, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, cls.Intent)
			assert.InDelta(t, tt.confidence, cls.Confidence, 1e-9)
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := c.Classify(cancelled, "report")
	assert.Error(t, err)
}

func TestFallbackClassifier(t *testing.T) {
	failing := ClassifierFunc(func(ctx context.Context, text string) (*Classification, error) {
		return nil, errors.New("model down")
	})
	c := NewFallbackClassifier(failing, NewKeywordClassifier(nil), zap.NewNop())

	cls, err := c.Classify(context.Background(), "quarterly report please")
	require.NoError(t, err)
	assert.Equal(t, IntentReport, cls.Intent)

	ok := ClassifierFunc(func(ctx context.Context, text string) (*Classification, error) {
		return &Classification{Intent: IntentChat, Confidence: 1}, nil
	})
	cls, err = NewFallbackClassifier(ok, failing, nil).Classify(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, IntentChat, cls.Intent)
}
