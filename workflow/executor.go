package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/internal/retry"
	"github.com/BaSui01/reportflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status 一次 Start / Resume 调用的结果状态
type Status string

const (
	// StatusCompleted 到达终态 stage
	StatusCompleted Status = "completed"
	// StatusSuspended 在 gate 处挂起，等待 ResumeDecision
	StatusSuspended Status = "suspended"
	// StatusFailed 瞬时故障重试耗尽，run 停在最后一个检查点，可再次 Start
	StatusFailed Status = "failed"
	// StatusAborted 致命领域错误，run 已终止
	StatusAborted Status = "aborted"
	// StatusCancelled run 被外部取消
	StatusCancelled Status = "cancelled"
)

// Result 执行结果。用户可见的失败总是一个结构完整的 Result。
type Result struct {
	RunID          string                     `json:"run_id"`
	Graph          string                     `json:"graph"`
	Status         Status                     `json:"status"`
	Outcome        Outcome                    `json:"outcome,omitempty"`
	Approval       *hitl.ApprovalRequest      `json:"approval,omitempty"`
	Output         map[string]json.RawMessage `json:"output,omitempty"`
	StageIndex     int                        `json:"stage_index"`
	EditIterations int                        `json:"edit_iterations"`
	Error          *types.Error               `json:"error,omitempty"`
}

// Saved 终态输出中的 saved 字段
func (r *Result) Saved() bool {
	var saved bool
	if raw, ok := r.Output["saved"]; ok {
		_ = json.Unmarshal(raw, &saved)
	}
	return saved
}

// Config 执行器配置
type Config struct {
	MaxEditIterations int
	StageTimeout      time.Duration
	Retry             retry.Policy
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxEditIterations: DefaultMaxEditIterations,
		StageTimeout:      2 * time.Minute,
		Retry:             retry.DefaultPolicy(),
	}
}

// Option 配置 Executor
type Option func(*Executor)

// WithObserver 注入指标观察者
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithTracer 注入 tracer，默认使用全局 TracerProvider
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

type lease struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Executor 驱动 run 穿过 StageGraph。
// 同一进程内每个 run_id 同时只有一个 worker；跨进程的单写者由审批请求的消费竞争保证。
type Executor struct {
	cfg         Config
	checkpoints checkpoint.Store
	interrupts  *hitl.Controller
	events      streaming.Publisher
	loop        EditLoop
	observer    Observer
	tracer      trace.Tracer
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	graphs map[string]*Graph

	leaseMu sync.Mutex
	leases  map[string]*lease
}

// NewExecutor 创建执行器。store、controller 和 bus 都由调用方注入。
func NewExecutor(cfg Config, checkpoints checkpoint.Store, interrupts *hitl.Controller, events streaming.Publisher, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = streaming.Discard
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig().StageTimeout
	}
	e := &Executor{
		cfg:         cfg,
		checkpoints: checkpoints,
		interrupts:  interrupts,
		events:      events,
		loop:        EditLoop{Max: cfg.MaxEditIterations},
		observer:    nopObserver{},
		tracer:      otel.Tracer("github.com/BaSui01/reportflow/workflow"),
		logger:      logger.With(zap.String("component", "workflow_executor")),
		now:         time.Now,
		graphs:      make(map[string]*Graph),
		leases:      make(map[string]*lease),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register 注册工作流
func (e *Executor) Register(graphs ...*Graph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range graphs {
		e.graphs[g.Name()] = g
	}
}

// Graph 查找已注册的工作流
func (e *Executor) Graph(name string) (*Graph, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGraph, name)
	}
	return g, nil
}

// Start 启动或继续一个 run。
//   - 没有检查点：从 stage 0 开始，initial 作为初始上下文
//   - 有未终止检查点且有待处理审批：原样返回 Suspended，不重跑任何 stage
//   - 有未终止检查点但没有审批：从检查点继续（崩溃或瞬时故障后的恢复）
//   - 检查点已终止：复用 run_id 开始新的 run
func (e *Executor) Start(ctx context.Context, runID, graphName string, initial map[string]any) (*Result, error) {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return nil, err
	}
	runCtx, release, err := e.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.checkpoints.Get(ctx, runID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cp = nil
	case err != nil:
		return nil, types.Transient("load checkpoint", err).WithRunID(runID)
	}

	if cp != nil && !cp.Terminal {
		g, err := e.Graph(cp.Graph)
		if err != nil {
			return nil, err
		}
		pending, err := e.interrupts.Pending(ctx, runID)
		if err != nil {
			return nil, types.Transient("load approval request", err).WithRunID(runID)
		}
		if pending != nil {
			return e.suspendedResult(cp, pending), nil
		}
		e.logger.Info("continuing run from checkpoint",
			zap.String("run_id", runID),
			zap.String("graph", cp.Graph),
			zap.Int("stage_index", cp.StageIndex),
		)
		return e.drive(runCtx, g, cp), nil
	}

	g, err := e.Graph(graphName)
	if err != nil {
		return nil, err
	}
	for k := range initial {
		if owner, owned := g.Owner(k); owned {
			return nil, fmt.Errorf("%w: %w: input %q is owned by stage %s", ErrInvalidInput, ErrFieldOwnership, k, owner)
		}
	}
	st, err := NewState(initial)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	fresh := &checkpoint.Checkpoint{RunID: runID, Graph: g.Name(), State: st}
	if cp != nil {
		// 终止的 run 复用 id，版本号继续递增
		fresh.Version = cp.Version
	}

	e.logger.Info("starting run", zap.String("run_id", runID), zap.String("graph", g.Name()))
	e.observer.RunStarted(g.Name())
	return e.drive(runCtx, g, fresh), nil
}

// Resume 用人工决策恢复一个挂起的 run。
// 没有匹配的待处理审批请求时返回 *hitl.StaleResumeError，run 状态不变。
func (e *Executor) Resume(ctx context.Context, d hitl.ResumeDecision) (*Result, error) {
	if err := checkpoint.ValidateRunID(d.RunID); err != nil {
		return nil, err
	}
	runCtx, release, err := e.acquire(ctx, d.RunID)
	if err != nil {
		// 正在被驱动的 run 没有可消费的审批请求
		e.observer.StaleResume()
		return nil, &hitl.StaleResumeError{RunID: d.RunID, Reason: "run is being driven by another worker"}
	}
	defer release()

	cp, req, err := e.interrupts.Claim(ctx, d)
	if err != nil {
		if hitl.IsStaleResume(err) {
			e.observer.StaleResume()
		}
		return nil, err
	}
	expected := cp.Version

	g, err := e.Graph(cp.Graph)
	if err != nil {
		_ = e.interrupts.Restore(ctx, req)
		return nil, err
	}
	gateIdx := cp.StageIndex
	if gateIdx >= g.Len() || !g.Stage(gateIdx).IsGate() {
		_ = e.interrupts.Restore(ctx, req)
		return nil, fmt.Errorf("run %s: checkpoint stage %d is not a gate", d.RunID, gateIdx)
	}
	gate := g.Stage(gateIdx).Gate
	t := gate.Actions[d.Action]

	e.observer.Resumed(g.Name(), string(d.Action))
	if err := e.applyTransition(g, cp, gateIdx, t, d.Feedback); err != nil {
		_ = e.interrupts.Restore(ctx, req)
		return nil, err
	}

	err = retry.New(e.cfg.Retry, e.logger).Do(runCtx, func(int) error {
		return e.persist(runCtx, cp, expected)
	})
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(context.Cause(runCtx), ErrCancelled) {
			return e.cancelledResult(g, cp), nil
		}
		_ = e.interrupts.Restore(ctx, req)
		return nil, types.Transient("persist resumed checkpoint", err).WithRunID(d.RunID)
	}

	e.emit(d.RunID, streaming.EventResumed, g.Stage(gateIdx).Name, map[string]any{
		"action":    d.Action,
		"iteration": cp.EditIterations,
	})
	return e.drive(runCtx, g, cp), nil
}

func (e *Executor) applyTransition(g *Graph, cp *checkpoint.Checkpoint, gateIdx int, t Transition, feedback string) error {
	gateName := g.Stage(gateIdx).Name
	switch t.Kind {
	case TransitionContinue:
		cp.StageIndex = gateIdx + 1
		return setOutcome(cp, t.Outcome)

	case TransitionTerminate:
		cp.StageIndex = g.TerminalIndex()
		return setOutcome(cp, t.Outcome)

	case TransitionNarrowRetry, TransitionWideRetry:
		mode := string(checkpoint.LoopNarrow)
		if t.Kind == TransitionWideRetry {
			mode = string(checkpoint.LoopWide)
		}
		entered, err := e.loop.Enter(g, cp, gateIdx, t, feedback)
		if err != nil {
			return err
		}
		e.observer.EditLoop(g.Name(), mode, !entered)
		if !entered {
			e.logger.Info("edit loop exhausted",
				zap.String("run_id", cp.RunID),
				zap.Int("iterations", cp.EditIterations),
			)
			e.emit(cp.RunID, streaming.EventEditLoop, gateName, map[string]any{
				"mode":      mode,
				"iteration": cp.EditIterations,
				"exhausted": true,
			})
			cp.StageIndex = g.TerminalIndex()
			return setOutcome(cp, OutcomeGaveUp)
		}
		e.emit(cp.RunID, streaming.EventEditLoop, gateName, map[string]any{
			"mode":      mode,
			"iteration": cp.EditIterations,
			"restart":   g.Stage(cp.Loop.Next).Name,
		})
		return nil
	}
	return fmt.Errorf("gate %s: no transition for decision", gateName)
}

func setOutcome(cp *checkpoint.Checkpoint, o Outcome) error {
	if o == "" {
		return nil
	}
	return cp.State.Set(KeyOutcome, o)
}

// drive 从 cp 开始推进 run，直到挂起、终止或失败。
func (e *Executor) drive(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint) *Result {
	for {
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			return e.cancelledResult(g, cp)
		}

		idx, feedback := cp.StageIndex, ""
		if cp.Loop != nil {
			idx = cp.Loop.Next
			if cp.Loop.Mode == checkpoint.LoopNarrow {
				feedback = cp.Loop.Feedback
			}
		}
		if idx >= g.Len() {
			return e.failedResult(g, cp, types.NewError(types.ErrInternalError, "stage index out of range").WithRunID(cp.RunID))
		}
		stage := g.Stage(idx)

		if stage.IsGate() {
			if cp.Loop != nil && cp.Loop.Gate != idx {
				// 循环范围内的其它 gate 之前已经通过
				cp.Loop.Next++
				continue
			}
			cp.Loop = nil
			if stage.Gate.When != nil && !stage.Gate.When(cp.State) {
				cp.StageIndex = idx + 1
				continue
			}
			return e.suspend(ctx, g, cp, idx)
		}

		next, err := e.runStage(ctx, g, cp, idx, feedback)
		if err != nil {
			return e.handleStageError(ctx, g, cp, stage, err)
		}
		cp = next
		if stage.Terminal {
			return e.complete(ctx, g, cp)
		}
	}
}

// runStage 执行一个 stage 并写入检查点。stage 与检查点写入作为一个整体重试：
// 写入失败时 delta 被丢弃，run 不会越过未持久化的 stage。
func (e *Executor) runStage(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint, idx int, feedback string) (*checkpoint.Checkpoint, error) {
	stage := g.Stage(idx)
	policy := e.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.observer.StageRetried(g.Name(), stage.Name)
		e.emit(cp.RunID, streaming.EventRetry, stage.Name, map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}

	var next *checkpoint.Checkpoint
	err := retry.New(policy, e.logger).Do(ctx, func(attempt int) error {
		e.emit(cp.RunID, streaming.EventStageStarted, stage.Name, map[string]any{
			"index":     idx,
			"attempt":   attempt,
			"iteration": cp.EditIterations,
		})

		started := e.now()
		delta, err := e.invoke(ctx, g, stage, cp, feedback)
		e.observer.StageFinished(g.Name(), stage.Name, e.now().Sub(started), err)
		if err != nil {
			var fe *FatalError
			if errors.As(err, &fe) {
				fe.Stage = stage.Name
				return retry.Permanent(err)
			}
			if errors.Is(context.Cause(ctx), ErrCancelled) {
				return retry.Permanent(ErrCancelled)
			}
			return err
		}

		st, err := g.apply(stage, cp.State, delta)
		if err != nil {
			return retry.Permanent(err)
		}
		candidate := cp.Clone()
		candidate.State = st
		switch {
		case candidate.Loop != nil:
			candidate.Loop.Next = idx + 1
		case stage.Terminal:
			candidate.StageIndex = g.Len()
			candidate.Terminal = true
			candidate.Outcome = string(OutcomeOf(st))
		default:
			candidate.StageIndex = idx + 1
		}

		if err := e.persist(ctx, candidate, cp.Version); err != nil {
			return err
		}
		next = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(cp.RunID, streaming.EventStageCompleted, stage.Name, map[string]any{
		"index":   idx,
		"outputs": stage.Outputs,
	})
	return next, nil
}

func (e *Executor) invoke(ctx context.Context, g *Graph, stage *Stage, cp *checkpoint.Checkpoint, feedback string) (delta Delta, err error) {
	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = e.cfg.StageTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sctx, span := e.tracer.Start(sctx, "workflow.stage "+stage.Name, trace.WithAttributes(
		attribute.String("workflow.run_id", cp.RunID),
		attribute.String("workflow.graph", g.Name()),
		attribute.String("workflow.stage", stage.Name),
		attribute.Int("workflow.edit_iteration", cp.EditIterations),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stage panicked",
				zap.String("run_id", cp.RunID),
				zap.String("stage", stage.Name),
				zap.Any("panic", r),
			)
			delta, err = nil, retry.Permanent(fmt.Errorf("stage %s panicked: %v", stage.Name, r))
		}
	}()

	runID := cp.RunID
	in := &StageInput{
		RunID:     runID,
		Graph:     g.Name(),
		Stage:     stage.Name,
		State:     cp.State.Clone(),
		Feedback:  feedback,
		Iteration: cp.EditIterations,
		emit: func(t streaming.EventType, data any) {
			e.emit(runID, t, stage.Name, data)
		},
	}
	delta, err = stage.Run(sctx, in)
	if err == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("stage %s exceeded %s", stage.Name, timeout)
	}
	return delta, err
}

// guard 写入前确认 run 没有被取消。
func (e *Executor) guard(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrCancelled) {
		return retry.Permanent(ErrCancelled)
	}
	return nil
}

// persist 以 expected 为条件写入 next，版本号为 expected+1。
func (e *Executor) persist(ctx context.Context, next *checkpoint.Checkpoint, expected int64) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	next.Version = expected + 1
	next.Timestamp = e.now().UTC()
	return superseded(e.checkpoints.PutIf(ctx, next, expected))
}

// superseded 版本冲突说明 run 已被其他 worker 推进、重启或删除，当作取消处理
func superseded(err error) error {
	if errors.Is(err, checkpoint.ErrVersionConflict) {
		return retry.Permanent(fmt.Errorf("%w: %w", ErrCancelled, err))
	}
	return err
}

func (e *Executor) suspend(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint, idx int) *Result {
	stage := g.Stage(idx)
	var payload any
	if stage.Gate.Payload != nil {
		p, err := stage.Gate.Payload(cp.State)
		if err != nil {
			return e.failedResult(g, cp, types.NewError(types.ErrInternalError, "build approval payload").WithCause(err).WithRunID(cp.RunID))
		}
		payload = p
	}

	next := cp.Clone()
	next.StageIndex = idx
	next.Loop = nil
	suspension := hitl.Suspension{
		GateType: stage.Gate.Type,
		Stage:    stage.Name,
		Actions:  stage.Gate.ActionList(),
		Payload:  payload,
	}

	expected := cp.Version
	var req *hitl.ApprovalRequest
	err := retry.New(e.cfg.Retry, e.logger).Do(ctx, func(int) error {
		if err := e.guard(ctx); err != nil {
			return err
		}
		next.Version = expected + 1
		next.Timestamp = e.now().UTC()
		suspension.Expected = expected
		r, err := e.interrupts.Suspend(ctx, next.Clone(), suspension)
		if err != nil {
			if errors.Is(err, checkpoint.ErrVersionConflict) {
				return superseded(err)
			}
			// 检查点已写入而审批请求失败时，以新版本为基准重试
			if cur, gerr := e.checkpoints.Get(ctx, cp.RunID); gerr == nil && cur.Version == next.Version {
				expected = next.Version
			}
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return e.handleStageError(ctx, g, cp, stage, err)
	}

	e.observer.Suspended(g.Name(), string(stage.Gate.Type))
	return e.suspendedResult(next, req)
}

func (e *Executor) complete(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint) *Result {
	if err := e.interrupts.Clear(ctx, cp.RunID); err != nil {
		e.logger.Warn("failed to clear approval request", zap.String("run_id", cp.RunID), zap.Error(err))
	}
	outcome := Outcome(cp.Outcome)
	output := Project(cp.State, g.ResultKeys())

	e.logger.Info("run completed",
		zap.String("run_id", cp.RunID),
		zap.String("graph", g.Name()),
		zap.String("outcome", string(outcome)),
		zap.Int("edit_iterations", cp.EditIterations),
	)
	e.emit(cp.RunID, streaming.EventCompleted, g.Stage(g.TerminalIndex()).Name, map[string]any{
		"outcome": outcome,
		"output":  output,
	})
	e.observer.RunFinished(g.Name(), string(outcome))

	return &Result{
		RunID:          cp.RunID,
		Graph:          g.Name(),
		Status:         StatusCompleted,
		Outcome:        outcome,
		Output:         output,
		StageIndex:     cp.StageIndex,
		EditIterations: cp.EditIterations,
	}
}

func (e *Executor) handleStageError(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint, stage *Stage, err error) *Result {
	var fe *FatalError
	switch {
	case errors.Is(err, ErrCancelled) || errors.Is(context.Cause(ctx), ErrCancelled):
		return e.cancelledResult(g, cp)
	case errors.As(err, &fe):
		return e.abort(ctx, g, cp, fe)
	case errors.Is(err, ErrFieldOwnership):
		return e.failedResult(g, cp, types.NewError(types.ErrInternalError, fmt.Sprintf("stage %s violated field ownership", stage.Name)).WithCause(err).WithRunID(cp.RunID))
	}
	return e.failedResult(g, cp, types.Transient(fmt.Sprintf("stage %s failed", stage.Name), err).WithRunID(cp.RunID))
}

// abort 致命错误直接写入终态检查点，不再执行后续 stage。
func (e *Executor) abort(ctx context.Context, g *Graph, cp *checkpoint.Checkpoint, fe *FatalError) *Result {
	final := cp.Clone()
	final.Loop = nil
	final.Terminal = true
	final.Outcome = string(OutcomeAborted)
	if err := setOutcome(final, OutcomeAborted); err == nil {
		if err := e.persist(ctx, final, cp.Version); err != nil {
			e.logger.Warn("failed to persist aborted checkpoint", zap.String("run_id", cp.RunID), zap.Error(err))
			final = cp
		}
	}
	if err := e.interrupts.Clear(ctx, cp.RunID); err != nil {
		e.logger.Warn("failed to clear approval request", zap.String("run_id", cp.RunID), zap.Error(err))
	}

	e.logger.Warn("run aborted",
		zap.String("run_id", cp.RunID),
		zap.String("stage", fe.Stage),
		zap.String("reason", fe.Reason),
	)
	e.emit(cp.RunID, streaming.EventFailed, fe.Stage, map[string]any{
		"outcome": OutcomeAborted,
		"reason":  fe.Reason,
	})
	e.observer.RunFinished(g.Name(), string(OutcomeAborted))

	return &Result{
		RunID:          cp.RunID,
		Graph:          g.Name(),
		Status:         StatusAborted,
		Outcome:        OutcomeAborted,
		StageIndex:     final.StageIndex,
		EditIterations: final.EditIterations,
		Error:          types.NewError(types.ErrRunAborted, fe.Error()).WithRunID(cp.RunID),
	}
}

func (e *Executor) failedResult(g *Graph, cp *checkpoint.Checkpoint, err *types.Error) *Result {
	e.logger.Error("run failed",
		zap.String("run_id", cp.RunID),
		zap.Int("stage_index", cp.StageIndex),
		zap.Error(err),
	)
	e.emit(cp.RunID, streaming.EventFailed, "", map[string]any{
		"code":      err.Code,
		"message":   err.Message,
		"retryable": err.Retryable,
	})
	e.observer.RunFinished(g.Name(), string(StatusFailed))
	return &Result{
		RunID:          cp.RunID,
		Graph:          g.Name(),
		Status:         StatusFailed,
		StageIndex:     cp.StageIndex,
		EditIterations: cp.EditIterations,
		Error:          err,
	}
}

func (e *Executor) cancelledResult(g *Graph, cp *checkpoint.Checkpoint) *Result {
	e.logger.Info("run cancelled, worker stopping", zap.String("run_id", cp.RunID))
	return &Result{
		RunID:          cp.RunID,
		Graph:          g.Name(),
		Status:         StatusCancelled,
		StageIndex:     cp.StageIndex,
		EditIterations: cp.EditIterations,
	}
}

func (e *Executor) suspendedResult(cp *checkpoint.Checkpoint, req *hitl.ApprovalRequest) *Result {
	return &Result{
		RunID:          cp.RunID,
		Graph:          cp.Graph,
		Status:         StatusSuspended,
		Approval:       req,
		StageIndex:     cp.StageIndex,
		EditIterations: cp.EditIterations,
	}
}

func (e *Executor) emit(runID string, t streaming.EventType, stage string, data any) {
	e.events.Publish(runID, streaming.Event{Type: t, Stage: stage, Data: data})
}

// acquire 取得 run 在本进程内的驱动权
func (e *Executor) acquire(parent context.Context, runID string) (context.Context, func(), error) {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	if _, busy := e.leases[runID]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunBusy, runID)
	}
	ctx, cancel := context.WithCancelCause(types.WithRunID(parent, runID))
	l := &lease{cancel: cancel, done: make(chan struct{})}
	e.leases[runID] = l

	release := func() {
		e.leaseMu.Lock()
		delete(e.leases, runID)
		e.leaseMu.Unlock()
		cancel(nil)
		close(l.done)
	}
	return ctx, release, nil
}

// Active 本进程是否有 worker 正在驱动该 run
func (e *Executor) Active(runID string) bool {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	_, ok := e.leases[runID]
	return ok
}
