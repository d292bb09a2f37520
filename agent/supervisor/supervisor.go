package supervisor

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/types"
	"github.com/BaSui01/reportflow/workflow"
)

// Executor Supervisor 依赖的执行器能力，由 *workflow.Executor 实现
type Executor interface {
	Start(ctx context.Context, runID, graphName string, initial map[string]any) (*workflow.Result, error)
	Resume(ctx context.Context, d hitl.ResumeDecision) (*workflow.Result, error)
	Cancel(ctx context.Context, runID string) error
	Status(ctx context.Context, runID string) (*workflow.RunStatus, error)
}

var _ Executor = (*workflow.Executor)(nil)

// Supervisor 请求入口
type Supervisor struct {
	router *Router
	exec   Executor
	logger *zap.Logger
	newID  func() string
}

// New 创建 Supervisor
func New(router *Router, exec Executor, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		router: router,
		exec:   exec,
		logger: logger.With(zap.String("component", "supervisor")),
		newID:  uuid.NewString,
	}
}

// RunID 由 session_id 推导 run_id，没有时生成新的 uuid
func (s *Supervisor) RunID(req Request) (string, error) {
	if req.SessionID == "" {
		return s.newID(), nil
	}
	if err := checkpoint.ValidateRunID(req.SessionID); err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "invalid session_id").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return req.SessionID, nil
}

// Handle 路由并启动 run。意图不明确时返回 *ClarificationNeeded，不创建 run。
func (s *Supervisor) Handle(ctx context.Context, req Request) (*workflow.Result, error) {
	runID, err := s.RunID(req)
	if err != nil {
		return nil, err
	}
	sel, err := s.router.Route(ctx, req)
	if err != nil {
		var clarify *ClarificationNeeded
		if errors.As(err, &clarify) {
			s.logger.Info("clarification needed",
				zap.String("run_id", runID),
				zap.String("intent", string(clarify.Classification.Intent)),
				zap.Float64("confidence", clarify.Classification.Confidence))
		}
		return nil, err
	}

	s.logger.Info("starting run",
		zap.String("run_id", runID),
		zap.String("graph", sel.Graph),
		zap.String("intent", string(sel.Classification.Intent)))
	return s.exec.Start(ctx, runID, sel.Graph, sel.Initial)
}

// Resume 投递人工决策
func (s *Supervisor) Resume(ctx context.Context, d hitl.ResumeDecision) (*workflow.Result, error) {
	return s.exec.Resume(ctx, d)
}

// Cancel 取消 run
func (s *Supervisor) Cancel(ctx context.Context, runID string) error {
	return s.exec.Cancel(ctx, runID)
}

// Status 查询 run
func (s *Supervisor) Status(ctx context.Context, runID string) (*workflow.RunStatus, error) {
	return s.exec.Status(ctx, runID)
}
