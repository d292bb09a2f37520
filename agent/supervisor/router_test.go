package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reportflow/types"
)

func fixed(intent Intent, confidence float64) Classifier {
	return ClassifierFunc(func(ctx context.Context, text string) (*Classification, error) {
		return &Classification{Intent: intent, Confidence: confidence}, nil
	})
}

func TestRouter_Route(t *testing.T) {
	r := NewRouter(fixed(IntentReport, 0.9), DefaultRouterConfig(), nil)

	sel, err := r.Route(context.Background(), Request{
		Query:  "  q3 revenue report ",
		UserID: "u1",
		Params: map[string]any{"require_plan_approval": true, "query": "overridden"},
	})
	require.NoError(t, err)
	assert.Equal(t, "report", sel.Graph)
	assert.Equal(t, "q3 revenue report", sel.Initial["query"])
	assert.Equal(t, "u1", sel.Initial["user_id"])
	assert.Equal(t, true, sel.Initial["require_plan_approval"])
}

func TestRouter_Clarification(t *testing.T) {
	tests := []struct {
		name       string
		classifier Classifier
		config     RouterConfig
	}{
		{"unknown intent", fixed(IntentUnknown, 0.99), DefaultRouterConfig()},
		{"low confidence", fixed(IntentReport, 0.3), DefaultRouterConfig()},
		{"no route", fixed(Intent("weather"), 0.99), DefaultRouterConfig()},
		{"threshold is inclusive", fixed(IntentChat, 0.59), RouterConfig{MinConfidence: 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRouter(tt.classifier, tt.config, nil).Route(context.Background(), Request{Query: "hmm"})
			var clarify *ClarificationNeeded
			require.True(t, errors.As(err, &clarify))
			assert.NotEmpty(t, clarify.Question)

			te := clarify.AsError()
			assert.Equal(t, types.ErrClarificationNeeded, te.Code)
			assert.Equal(t, http.StatusUnprocessableEntity, te.HTTPStatus)
		})
	}

	sel, err := NewRouter(fixed(IntentChat, 0.6), RouterConfig{MinConfidence: 0.6}, nil).
		Route(context.Background(), Request{Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "chat", sel.Graph)
}

func TestRouter_Errors(t *testing.T) {
	r := NewRouter(fixed(IntentReport, 1), DefaultRouterConfig(), nil)
	_, err := r.Route(context.Background(), Request{Query: "   "})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	failing := ClassifierFunc(func(ctx context.Context, text string) (*Classification, error) {
		return nil, errors.New("boom")
	})
	_, err = NewRouter(failing, DefaultRouterConfig(), nil).Route(context.Background(), Request{Query: "x"})
	assert.True(t, types.IsRetryable(err))
}

type countingRecorder struct {
	routes         map[string]int
	clarifications int
}

func (c *countingRecorder) RecordRoute(intent string) {
	if c.routes == nil {
		c.routes = make(map[string]int)
	}
	c.routes[intent]++
}

func (c *countingRecorder) RecordClarification() { c.clarifications++ }

func TestRouter_Recorder(t *testing.T) {
	rec := &countingRecorder{}
	ctx := context.Background()

	_, err := NewRouter(fixed(IntentReport, 0.9), DefaultRouterConfig(), nil).WithRecorder(rec).
		Route(ctx, Request{Query: "report"})
	require.NoError(t, err)
	_, err = NewRouter(fixed(IntentUnknown, 0), DefaultRouterConfig(), nil).WithRecorder(rec).
		Route(ctx, Request{Query: "???"})
	require.Error(t, err)

	assert.Equal(t, map[string]int{"report": 1}, rec.routes)
	assert.Equal(t, 1, rec.clarifications)
}
