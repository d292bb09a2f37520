package providers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/reportflow/llm"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		code      llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, "", llm.ErrUnauthorized, false},
		{http.StatusForbidden, "", llm.ErrForbidden, false},
		{http.StatusTooManyRequests, "", llm.ErrRateLimited, true},
		{http.StatusBadRequest, "Credit balance too low", llm.ErrQuotaExceeded, false},
		{http.StatusBadRequest, "missing field", llm.ErrInvalidRequest, false},
		{http.StatusGatewayTimeout, "", llm.ErrUpstreamTimeout, true},
		{http.StatusBadGateway, "", llm.ErrUpstreamError, true},
		{529, "", llm.ErrModelOverloaded, true},
		{http.StatusInternalServerError, "", llm.ErrUpstreamError, true},
		{http.StatusNotFound, "", llm.ErrUpstreamError, false},
	}
	for _, tt := range tests {
		e := MapHTTPError(tt.status, tt.msg, "p")
		assert.Equal(t, tt.code, e.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, e.Retryable, "status %d", tt.status)
		assert.Equal(t, "p", e.Provider)
	}
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad"}}`)))
	assert.Equal(t, "bad (type: invalid)", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad","type":"invalid"}}`)))
	assert.Equal(t, "plain text", ReadErrorMessage(strings.NewReader(" plain text \n")))
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "a", ChooseModel(&llm.ChatRequest{Model: "a"}, "b", "c"))
	assert.Equal(t, "b", ChooseModel(&llm.ChatRequest{}, "b", "c"))
	assert.Equal(t, "c", ChooseModel(nil, "", "c"))
}

func TestToLLMChatResponse(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{
		ID:      "x",
		Model:   "m",
		Choices: []OpenAICompatChoice{{Index: 0, Message: OpenAICompatMessage{Role: "assistant", Content: "hi"}}},
	}, "p")
	assert.Equal(t, "p", resp.Provider)
	assert.True(t, resp.CreatedAt.IsZero())
	assert.Zero(t, resp.Usage.TotalTokens)
	text, err := resp.FirstContent()
	assert.NoError(t, err)
	assert.Equal(t, "hi", text)
}
