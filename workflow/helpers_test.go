package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/persistence"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/internal/retry"
)

// =============================================================================
// 测试用检查点存储：记录每次写入，可注入失败
// =============================================================================

type recordingStore struct {
	checkpoint.Store

	mu       sync.Mutex
	puts     []*checkpoint.Checkpoint
	failNext int
	failFrom int // >0 时第 failFrom 次及之后的写入全部失败
	putErr   error
}

func newRecordingStore(inner checkpoint.Store) *recordingStore {
	return &recordingStore{Store: inner, putErr: errors.New("disk unavailable")}
}

func (r *recordingStore) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := r.inject(); err != nil {
		return err
	}
	if err := r.Store.Put(ctx, cp); err != nil {
		return err
	}
	r.record(cp)
	return nil
}

func (r *recordingStore) PutIf(ctx context.Context, cp *checkpoint.Checkpoint, expected int64) error {
	if err := r.inject(); err != nil {
		return err
	}
	if err := r.Store.PutIf(ctx, cp, expected); err != nil {
		return err
	}
	r.record(cp)
	return nil
}

// inject 按 failNext / failFrom 返回注入的写入错误
func (r *recordingStore) inject() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return r.putErr
	}
	if r.failFrom > 0 && len(r.puts)+1 >= r.failFrom {
		return r.putErr
	}
	return nil
}

func (r *recordingStore) record(cp *checkpoint.Checkpoint) {
	r.mu.Lock()
	r.puts = append(r.puts, cp.Clone())
	r.mu.Unlock()
}

func (r *recordingStore) Puts() []*checkpoint.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*checkpoint.Checkpoint(nil), r.puts...)
}

func (r *recordingStore) setFailNext(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

// =============================================================================
// 测试用工作流：extract -> gather -> compose -> review(gate) -> commit
// =============================================================================

type stageCalls struct {
	mu    sync.Mutex
	calls map[string]int
	// compose 每次看到的 evidence 原始字节和反馈
	composeEvidence [][]byte
	composeFeedback []string
	gatherHints     [][]string
}

func newStageCalls() *stageCalls {
	return &stageCalls{calls: make(map[string]int)}
}

func (c *stageCalls) inc(stage string) {
	c.mu.Lock()
	c.calls[stage]++
	c.mu.Unlock()
}

func (c *stageCalls) count(stage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[stage]
}

func (c *stageCalls) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type graphOptions struct {
	reviewWhen func(State) bool
	extract    StageFunc
	compose    StageFunc
}

func testGraph(calls *stageCalls, opts graphOptions) *Graph {
	extract := opts.extract
	if extract == nil {
		extract = func(ctx context.Context, in *StageInput) (Delta, error) {
			calls.inc("extract")
			var query string
			if err := in.Decode("query", &query); err != nil {
				return nil, Fatal("missing query", err)
			}
			return Delta{"topic": "topic:" + query}, nil
		}
	}
	compose := opts.compose
	if compose == nil {
		compose = func(ctx context.Context, in *StageInput) (Delta, error) {
			calls.inc("compose")
			calls.mu.Lock()
			calls.composeEvidence = append(calls.composeEvidence, append([]byte(nil), in.State["evidence"]...))
			calls.composeFeedback = append(calls.composeFeedback, in.Feedback)
			calls.mu.Unlock()

			var evidence []string
			if err := in.Decode("evidence", &evidence); err != nil {
				return nil, err
			}
			draft := fmt.Sprintf("draft(%d evidence, iteration %d)", len(evidence), in.Iteration)
			if in.Feedback != "" {
				draft += " feedback=" + in.Feedback
			}
			return Delta{"draft": draft}, nil
		}
	}

	return NewGraph("test").
		Stage("extract", extract, "topic").
		Stage("gather", func(ctx context.Context, in *StageInput) (Delta, error) {
			calls.inc("gather")
			var topic string
			if err := in.Decode("topic", &topic); err != nil {
				return nil, err
			}
			hints := QueryHints(in.State)
			calls.mu.Lock()
			calls.gatherHints = append(calls.gatherHints, hints)
			calls.mu.Unlock()
			evidence := []string{topic + "/a", topic + "/b"}
			for _, h := range hints {
				evidence = append(evidence, topic+"/"+h)
			}
			return Delta{"evidence": evidence}, nil
		}, "evidence").
		Stage("compose", compose, "draft").
		Gate("review", Gate{
			Type: hitl.GateRecordApproval,
			When: opts.reviewWhen,
			Payload: func(s State) (any, error) {
				var draft string
				_, err := s.Get("draft", &draft)
				return map[string]any{"draft": draft}, err
			},
			Actions: map[hitl.Action]Transition{
				hitl.ActionApprove:     Continue(OutcomeApproved),
				hitl.ActionReject:      Terminate(OutcomeRejected),
				hitl.ActionEditWording: NarrowRetry(),
				hitl.ActionEditContent: WideRetry(),
			},
			LoopStart: "gather",
		}).
		Terminal("commit", func(ctx context.Context, in *StageInput) (Delta, error) {
			calls.inc("commit")
			saved := OutcomeOf(in.State).Saveable()
			return Delta{"saved": saved}, nil
		}, "saved").
		Result("draft", "saved").
		MustBuild()
}

// =============================================================================
// harness
// =============================================================================

type harness struct {
	backend persistence.Backend
	store   *recordingStore
	bus     *streaming.Bus
	ctrl    *hitl.Controller
	exec    *Executor
	calls   *stageCalls
	graph   *Graph
}

func testConfig() Config {
	return Config{
		MaxEditIterations: DefaultMaxEditIterations,
		StageTimeout:      5 * time.Second,
		Retry: retry.Policy{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func newHarness(t *testing.T, opts graphOptions) *harness {
	t.Helper()
	backend := persistence.NewMemoryStore()
	return newHarnessOn(t, backend, opts)
}

func newHarnessOn(t *testing.T, backend persistence.Backend, opts graphOptions) *harness {
	t.Helper()
	store := newRecordingStore(backend.Checkpoints())
	bus := streaming.NewBus(256, zap.NewNop())
	ctrl := hitl.NewController(store, backend.Approvals(), bus, zap.NewNop())
	calls := newStageCalls()
	g := testGraph(calls, opts)
	exec := NewExecutor(testConfig(), store, ctrl, bus, zap.NewNop())
	exec.Register(g)
	return &harness{backend: backend, store: store, bus: bus, ctrl: ctrl, exec: exec, calls: calls, graph: g}
}

func (h *harness) start(t *testing.T, runID string) *Result {
	t.Helper()
	res, err := h.exec.Start(context.Background(), runID, "test", map[string]any{"query": "q3 revenue"})
	require.NoError(t, err)
	return res
}

func (h *harness) resume(t *testing.T, runID string, action hitl.Action, feedback string) *Result {
	t.Helper()
	res, err := h.exec.Resume(context.Background(), hitl.ResumeDecision{RunID: runID, Action: action, Feedback: feedback})
	require.NoError(t, err)
	return res
}

func (h *harness) loadCheckpoint(t *testing.T, runID string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.backend.Checkpoints().Get(context.Background(), runID)
	require.NoError(t, err)
	return cp
}

// collect 订阅 run 的事件，返回读取函数
func collect(t *testing.T, bus *streaming.Bus, runID string) func() []streaming.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe, err := bus.Subscribe(ctx, runID)
	require.NoError(t, err)
	t.Cleanup(func() {
		unsubscribe()
		cancel()
	})
	return func() []streaming.Event {
		var out []streaming.Event
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return out
				}
				out = append(out, ev)
			default:
				return out
			}
		}
	}
}

func eventTypes(events []streaming.Event) []streaming.EventType {
	out := make([]streaming.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// countingObserver 记录执行器上报的指标
type countingObserver struct {
	nopObserver
	mu        sync.Mutex
	stale     int
	retried   int
	suspended int
	finished  []string
	loops     []bool
}

func (o *countingObserver) StaleResume() {
	o.mu.Lock()
	o.stale++
	o.mu.Unlock()
}

func (o *countingObserver) StageRetried(string, string) {
	o.mu.Lock()
	o.retried++
	o.mu.Unlock()
}

func (o *countingObserver) Suspended(string, string) {
	o.mu.Lock()
	o.suspended++
	o.mu.Unlock()
}

func (o *countingObserver) RunFinished(_ string, status string) {
	o.mu.Lock()
	o.finished = append(o.finished, status)
	o.mu.Unlock()
}

func (o *countingObserver) EditLoop(_ string, _ string, exhausted bool) {
	o.mu.Lock()
	o.loops = append(o.loops, exhausted)
	o.mu.Unlock()
}
