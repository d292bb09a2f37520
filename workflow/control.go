package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunStatus run 的当前持久化状态
type RunStatus struct {
	RunID      string                 `json:"run_id"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Approval   *hitl.ApprovalRequest  `json:"approval,omitempty"`
	Active     bool                   `json:"active"`
}

// Status 查询 run 的检查点与待处理审批
func (e *Executor) Status(ctx context.Context, runID string) (*RunStatus, error) {
	cp, err := e.checkpoints.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			if e.Active(runID) {
				return &RunStatus{RunID: runID, Active: true}, nil
			}
			return nil, ErrRunNotFound
		}
		return nil, types.Transient("load checkpoint", err).WithRunID(runID)
	}
	pending, err := e.interrupts.Pending(ctx, runID)
	if err != nil {
		return nil, types.Transient("load approval request", err).WithRunID(runID)
	}
	return &RunStatus{RunID: runID, Checkpoint: cp, Approval: pending, Active: e.Active(runID)}, nil
}

// Cancel 取消 run：停止本进程内的 worker，删除检查点与审批请求，发布 cancelled 事件。
func (e *Executor) Cancel(ctx context.Context, runID string) error {
	e.leaseMu.Lock()
	l, active := e.leases[runID]
	e.leaseMu.Unlock()
	if active {
		l.cancel(ErrCancelled)
		// 等 worker 退出后再删除，避免它在删除之后又写回检查点
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cp, err := e.checkpoints.Get(ctx, runID)
	existed := err == nil
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return types.Transient("load checkpoint", err).WithRunID(runID)
	}
	if err := e.interrupts.Clear(ctx, runID); err != nil {
		return types.Transient("delete approval request", err).WithRunID(runID)
	}
	if err := e.checkpoints.Delete(ctx, runID); err != nil {
		return types.Transient("delete checkpoint", err).WithRunID(runID)
	}
	if !existed && !active {
		return ErrRunNotFound
	}

	graph := ""
	if cp != nil {
		graph = cp.Graph
	}
	e.logger.Info("run cancelled", zap.String("run_id", runID), zap.Bool("worker_stopped", active))
	e.emit(runID, streaming.EventCancelled, "", nil)
	e.observer.RunFinished(graph, string(StatusCancelled))
	return nil
}

// Recover 在进程启动时继续所有未终止、未挂起的 run（上次崩溃时正在执行的 run）。
func (e *Executor) Recover(ctx context.Context, concurrency int) (int, error) {
	cps, err := e.checkpoints.List(ctx)
	if err != nil {
		return 0, types.Transient("list checkpoints", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	recovered := 0
	for _, cp := range cps {
		if cp.Terminal {
			continue
		}
		pending, err := e.interrupts.Pending(ctx, cp.RunID)
		if err != nil {
			return recovered, types.Transient("load approval request", err).WithRunID(cp.RunID)
		}
		if pending != nil {
			continue
		}
		recovered++
		runID, graph := cp.RunID, cp.Graph
		g.Go(func() error {
			res, err := e.Start(gctx, runID, graph, nil)
			if err != nil {
				if !errors.Is(err, ErrRunBusy) {
					e.logger.Warn("recover run failed", zap.String("run_id", runID), zap.Error(err))
				}
				return nil
			}
			e.logger.Info("run recovered", zap.String("run_id", runID), zap.String("status", string(res.Status)))
			return nil
		})
	}
	return recovered, g.Wait()
}

// SweepExpired 取消审批请求超过 ttl 仍未答复的 run。
func (e *Executor) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	pending, err := e.interrupts.List(ctx)
	if err != nil {
		return 0, types.Transient("list approval requests", err)
	}
	deadline := e.now().Add(-ttl)
	swept := 0
	for _, req := range pending {
		if req.CreatedAt.After(deadline) {
			continue
		}
		if err := e.Cancel(ctx, req.RunID); err != nil && !errors.Is(err, ErrRunNotFound) {
			e.logger.Warn("failed to cancel expired run", zap.String("run_id", req.RunID), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		e.logger.Info("expired approvals swept", zap.Int("count", swept), zap.Duration("ttl", ttl))
	}
	return swept, nil
}
