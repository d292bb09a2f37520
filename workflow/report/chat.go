package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/reportflow/workflow"
)

const chatSystemHint = "Reply briefly and conversationally. If the user asks for a report, tell them to describe the topic."

// NewChatGraph 单 stage 的闲聊工作流：没有 gate，一次 Start 即得到终态结果
func NewChatGraph(generator Generator) (*workflow.Graph, error) {
	if generator == nil {
		return nil, errors.New("chat: generator is required")
	}
	reply := func(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
		var query string
		if err := in.Decode(KeyQuery, &query); err != nil {
			return nil, workflow.Fatal("request has no query", err)
		}
		if strings.TrimSpace(query) == "" {
			return nil, workflow.Fatal("request has an empty query", nil)
		}
		out, err := generator.Generate(ctx, query, chatSystemHint)
		if err != nil {
			return nil, fmt.Errorf("chat reply: %w", err)
		}
		return workflow.Delta{KeyReply: strings.TrimSpace(out)}, nil
	}

	return workflow.NewGraph(ChatGraphName).
		Terminal("reply", reply, KeyReply).
		Result(KeyReply).
		Build()
}
