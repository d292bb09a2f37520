package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 控制器写入 State 的保留字段
const (
	StateKeyLastDecision = "last_decision"
	StateKeyUserEdits    = "user_edits"
)

// Suspension 描述一次 gate 挂起
type Suspension struct {
	GateType GateType
	Stage    string
	Actions  []Action
	Payload  any
	// Expected 写入前存储中检查点应有的版本，0 表示 run 尚无检查点
	Expected int64
}

// Controller 管理 gate 的挂起与恢复。它不解释 payload 语义。
type Controller struct {
	checkpoints checkpoint.Store
	approvals   ApprovalStore
	events      streaming.Publisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewController 创建控制器
func NewController(checkpoints checkpoint.Store, approvals ApprovalStore, events streaming.Publisher, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = streaming.Discard
	}
	return &Controller{
		checkpoints: checkpoints,
		approvals:   approvals,
		events:      events,
		logger:      logger.With(zap.String("component", "interrupt_controller")),
		now:         time.Now,
	}
}

// Suspend 持久化 gate 处的检查点（pre-gate 上下文）和审批请求，然后发出 interrupt 事件。
// 返回后 run 已被持久化停放，调用进程可以退出。
func (c *Controller) Suspend(ctx context.Context, cp *checkpoint.Checkpoint, s Suspension) (*ApprovalRequest, error) {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", s.GateType, err)
	}

	req := &ApprovalRequest{
		ID:         uuid.NewString(),
		RunID:      cp.RunID,
		GateType:   s.GateType,
		Stage:      s.Stage,
		StageIndex: cp.StageIndex,
		Iteration:  cp.EditIterations,
		Actions:    s.Actions,
		Payload:    payload,
		CreatedAt:  c.now(),
	}

	if err := c.checkpoints.PutIf(ctx, cp, s.Expected); err != nil {
		if errors.Is(err, checkpoint.ErrVersionConflict) {
			return nil, fmt.Errorf("suspend run %s: %w", cp.RunID, err)
		}
		return nil, types.Transient("persist checkpoint at gate", err).WithRunID(cp.RunID)
	}
	// 检查点已落盘但审批请求未保存时，下一次 Start 会重新进入 gate
	if err := c.approvals.Save(ctx, req); err != nil {
		return nil, types.Transient("persist approval request", err).WithRunID(cp.RunID)
	}

	c.logger.Info("run suspended at gate",
		zap.String("run_id", cp.RunID),
		zap.String("gate", string(s.GateType)),
		zap.String("approval_id", req.ID),
		zap.Int("iteration", cp.EditIterations),
	)
	c.events.Publish(cp.RunID, streaming.Event{
		Type:  streaming.EventInterrupt,
		Stage: s.Stage,
		Data:  req,
	})
	return req, nil
}

// Claim 消费待处理的审批请求并把决策合并进检查点上下文。
// 返回的检查点尚未写回，调用方写入失败时应调用 Restore。
func (c *Controller) Claim(ctx context.Context, d ResumeDecision) (*checkpoint.Checkpoint, *ApprovalRequest, error) {
	req, err := c.approvals.Get(ctx, d.RunID)
	if err != nil {
		if errors.Is(err, ErrApprovalNotFound) {
			return nil, nil, c.stale(d.RunID, "no pending approval request")
		}
		return nil, nil, types.Transient("load approval request", err).WithRunID(d.RunID)
	}

	if !req.Allows(d.Action) {
		return nil, nil, fmt.Errorf("%w: %q is not accepted at %s", ErrInvalidAction, d.Action, req.GateType)
	}

	cp, err := c.checkpoints.Get(ctx, d.RunID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, nil, c.stale(d.RunID, "run has no checkpoint")
		}
		return nil, nil, types.Transient("load checkpoint", err).WithRunID(d.RunID)
	}
	if cp.Terminal || cp.StageIndex != req.StageIndex || cp.EditIterations != req.Iteration {
		return nil, nil, c.stale(d.RunID, "approval request superseded")
	}

	// 并发恢复在这里竞争，只有一个赢家
	if err := c.approvals.Take(ctx, d.RunID, req.ID); err != nil {
		if errors.Is(err, ErrApprovalNotFound) {
			return nil, nil, c.stale(d.RunID, "approval request already consumed")
		}
		return nil, nil, types.Transient("consume approval request", err).WithRunID(d.RunID)
	}

	if cp.State == nil {
		cp.State = checkpoint.State{}
	}
	if err := mergeDecision(cp.State, req, d, c.now()); err != nil {
		_ = c.Restore(ctx, req)
		return nil, nil, err
	}

	c.logger.Info("approval claimed",
		zap.String("run_id", d.RunID),
		zap.String("approval_id", req.ID),
		zap.String("action", string(d.Action)),
	)
	return cp, req, nil
}

// Restore 在 Claim 之后的检查点写入失败时放回审批请求，人可以重试。
func (c *Controller) Restore(ctx context.Context, req *ApprovalRequest) error {
	if err := c.approvals.Save(ctx, req); err != nil {
		c.logger.Error("failed to restore approval request",
			zap.String("run_id", req.RunID),
			zap.String("approval_id", req.ID),
			zap.Error(err),
		)
		return fmt.Errorf("restore approval request: %w", err)
	}
	return nil
}

// Pending 返回 run 的待处理审批请求，没有时返回 nil。
func (c *Controller) Pending(ctx context.Context, runID string) (*ApprovalRequest, error) {
	req, err := c.approvals.Get(ctx, runID)
	if errors.Is(err, ErrApprovalNotFound) {
		return nil, nil
	}
	return req, err
}

// Clear 删除 run 的审批请求
func (c *Controller) Clear(ctx context.Context, runID string) error {
	return c.approvals.Delete(ctx, runID)
}

// List 列出全部待处理审批请求
func (c *Controller) List(ctx context.Context) ([]*ApprovalRequest, error) {
	return c.approvals.List(ctx)
}

func (c *Controller) stale(runID, reason string) error {
	c.logger.Info("rejecting stale resume", zap.String("run_id", runID), zap.String("reason", reason))
	return &StaleResumeError{RunID: runID, Reason: reason}
}

func mergeDecision(state checkpoint.State, req *ApprovalRequest, d ResumeDecision, at time.Time) error {
	record := DecisionRecord{
		ApprovalID: req.ID,
		GateType:   req.GateType,
		Action:     d.Action,
		Feedback:   d.Feedback,
		UserID:     d.UserID,
		Comment:    d.Comment,
		Iteration:  req.Iteration,
		DecidedAt:  at.UTC(),
	}
	if err := state.Set(StateKeyLastDecision, record); err != nil {
		return err
	}
	if len(d.EditedFields) == 0 {
		return nil
	}

	edits := map[string]any{}
	if _, err := state.Get(StateKeyUserEdits, &edits); err != nil {
		return err
	}
	for k, v := range d.EditedFields {
		edits[k] = v
	}
	return state.Set(StateKeyUserEdits, edits)
}
