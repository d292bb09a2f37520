package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/streaming"
)

// StageFunc 一个 stage 的实现。对相同输入必须是幂等的：
// 检查点写入失败后 stage 会被整体重跑。
type StageFunc func(ctx context.Context, in *StageInput) (Delta, error)

// StageInput stage 的输入
type StageInput struct {
	RunID     string
	Graph     string
	Stage     string
	State     State  // 快照，修改它不会影响 run
	Feedback  string // 窄循环时人工给出的反馈
	Iteration int

	emit func(t streaming.EventType, data any)
}

// Decode 把 State 字段解码到 v，字段缺失时报错
func (in *StageInput) Decode(key string, v any) error {
	ok, err := in.State.Get(key, v)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stage %s: missing input %q", in.Stage, key)
	}
	return nil
}

// Emit 发出 stage 自己的类型化进度事件
func (in *StageInput) Emit(t streaming.EventType, data any) {
	if in.emit != nil {
		in.emit(t, data)
	}
}

// TransitionKind gate 决策之后的走向
type TransitionKind string

const (
	TransitionContinue    TransitionKind = "continue"
	TransitionTerminate   TransitionKind = "terminate"
	TransitionNarrowRetry TransitionKind = "narrow_retry"
	TransitionWideRetry   TransitionKind = "wide_retry"
)

// Transition 动作对应的转移
type Transition struct {
	Kind    TransitionKind
	Outcome Outcome
}

// Continue 越过 gate 继续执行
func Continue(o Outcome) Transition { return Transition{Kind: TransitionContinue, Outcome: o} }

// Terminate 直接跳到终态 stage
func Terminate(o Outcome) Transition { return Transition{Kind: TransitionTerminate, Outcome: o} }

// NarrowRetry 只重跑 gate 之前的那个 stage
func NarrowRetry() Transition { return Transition{Kind: TransitionNarrowRetry} }

// WideRetry 从 gate 的 LoopStart 开始重跑
func WideRetry() Transition { return Transition{Kind: TransitionWideRetry} }

// Gate HITL gate 声明
type Gate struct {
	Type hitl.GateType
	// When 为 nil 时总是挂起；返回 false 时 gate 被跳过
	When func(State) bool
	// Payload 构造给人看的结构化问题
	Payload func(State) (any, error)
	Actions map[hitl.Action]Transition
	// LoopStart 宽循环起点的 stage 名
	LoopStart string
}

// ActionList 返回排好序的合法动作
func (g *Gate) ActionList() []hitl.Action {
	order := []hitl.Action{hitl.ActionApprove, hitl.ActionReject, hitl.ActionEditWording, hitl.ActionEditContent}
	out := make([]hitl.Action, 0, len(g.Actions))
	for _, a := range order {
		if _, ok := g.Actions[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Stage 工作流中的一个命名步骤
type Stage struct {
	Name     string
	Outputs  []string
	Run      StageFunc
	Gate     *Gate
	Terminal bool
	// Timeout 覆盖执行器的默认 stage 超时
	Timeout time.Duration
}

// IsGate 是否为 HITL gate
func (s *Stage) IsGate() bool { return s.Gate != nil }

func (s *Stage) owns(key string) bool {
	for _, o := range s.Outputs {
		if o == key {
			return true
		}
	}
	return false
}

// Graph 有序的 stage 声明，最后一个 stage 为终态。构建后只读。
type Graph struct {
	name    string
	stages  []*Stage
	index   map[string]int
	owners  map[string]string
	results []string
}

// Name 工作流名
func (g *Graph) Name() string { return g.name }

// Len stage 数量
func (g *Graph) Len() int { return len(g.stages) }

// Stage 返回第 i 个 stage
func (g *Graph) Stage(i int) *Stage { return g.stages[i] }

// Index 按名字查 stage 下标
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// TerminalIndex 终态 stage 的下标
func (g *Graph) TerminalIndex() int { return len(g.stages) - 1 }

// ResultKeys 终态结果投影的字段
func (g *Graph) ResultKeys() []string { return append([]string(nil), g.results...) }

// Owner 返回声明该字段的 stage
func (g *Graph) Owner(key string) (string, bool) {
	s, ok := g.owners[key]
	return s, ok
}

// apply 在所有权检查后把 delta 合并进 State 的副本
func (g *Graph) apply(stage *Stage, st State, d Delta) (State, error) {
	next := st.Clone()
	for k, v := range d {
		if !stage.owns(k) {
			return nil, fmt.Errorf("%w: stage %s wrote %q", ErrFieldOwnership, stage.Name, k)
		}
		if err := next.Set(k, v); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Builder 以 fluent API 构建 Graph
type Builder struct {
	name    string
	stages  []*Stage
	results []string
}

// NewGraph 创建构建器
func NewGraph(name string) *Builder {
	return &Builder{name: name}
}

// Stage 追加一个普通 stage
func (b *Builder) Stage(name string, fn StageFunc, outputs ...string) *Builder {
	b.stages = append(b.stages, &Stage{Name: name, Run: fn, Outputs: outputs})
	return b
}

// StageWithTimeout 追加一个带独立超时的 stage
func (b *Builder) StageWithTimeout(name string, timeout time.Duration, fn StageFunc, outputs ...string) *Builder {
	b.stages = append(b.stages, &Stage{Name: name, Run: fn, Outputs: outputs, Timeout: timeout})
	return b
}

// Gate 追加一个 HITL gate
func (b *Builder) Gate(name string, gate Gate) *Builder {
	g := gate
	b.stages = append(b.stages, &Stage{Name: name, Gate: &g})
	return b
}

// Terminal 追加终态 stage
func (b *Builder) Terminal(name string, fn StageFunc, outputs ...string) *Builder {
	b.stages = append(b.stages, &Stage{Name: name, Run: fn, Outputs: outputs, Terminal: true})
	return b
}

// Result 声明终态结果投影的字段
func (b *Builder) Result(keys ...string) *Builder {
	b.results = append(b.results, keys...)
	return b
}

// Build 校验并构建 Graph
func (b *Builder) Build() (*Graph, error) {
	if b.name == "" {
		return nil, errors.New("graph name is required")
	}
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("graph %s: no stages", b.name)
	}

	g := &Graph{
		name:    b.name,
		stages:  b.stages,
		index:   make(map[string]int, len(b.stages)),
		owners:  make(map[string]string),
		results: b.results,
	}

	for i, s := range b.stages {
		if s.Name == "" {
			return nil, fmt.Errorf("graph %s: stage %d has no name", b.name, i)
		}
		if _, dup := g.index[s.Name]; dup {
			return nil, fmt.Errorf("graph %s: duplicate stage %q", b.name, s.Name)
		}
		g.index[s.Name] = i

		last := i == len(b.stages)-1
		if s.Terminal != last {
			return nil, fmt.Errorf("graph %s: exactly the last stage must be terminal (stage %q)", b.name, s.Name)
		}
		if s.IsGate() {
			if s.Run != nil || len(s.Outputs) > 0 {
				return nil, fmt.Errorf("graph %s: gate %q cannot run code or own outputs", b.name, s.Name)
			}
			continue
		}
		if s.Run == nil {
			return nil, fmt.Errorf("graph %s: stage %q has no run func", b.name, s.Name)
		}
		for _, out := range s.Outputs {
			if IsReserved(out) {
				return nil, fmt.Errorf("graph %s: stage %q cannot own reserved field %q", b.name, s.Name, out)
			}
			if prev, taken := g.owners[out]; taken {
				return nil, fmt.Errorf("graph %s: field %q owned by both %q and %q", b.name, out, prev, s.Name)
			}
			g.owners[out] = s.Name
		}
	}

	for i, s := range b.stages {
		if !s.IsGate() {
			continue
		}
		if err := g.validateGate(i, s); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MustBuild Build 失败时 panic，用于静态声明的工作流
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) validateGate(i int, s *Stage) error {
	gate := s.Gate
	if gate.Type == "" {
		return fmt.Errorf("graph %s: gate %q has no type", g.name, s.Name)
	}
	if len(gate.Actions) == 0 {
		return fmt.Errorf("graph %s: gate %q accepts no actions", g.name, s.Name)
	}
	for action, t := range gate.Actions {
		switch t.Kind {
		case TransitionContinue, TransitionTerminate:
		case TransitionNarrowRetry:
			if i == 0 || g.stages[i-1].IsGate() {
				return fmt.Errorf("graph %s: gate %q action %s needs a stage right before the gate", g.name, s.Name, action)
			}
		case TransitionWideRetry:
			start, ok := g.index[gate.LoopStart]
			if !ok || start >= i {
				return fmt.Errorf("graph %s: gate %q loop start %q must precede the gate", g.name, s.Name, gate.LoopStart)
			}
			if g.stages[start].IsGate() {
				return fmt.Errorf("graph %s: gate %q loop start %q is a gate", g.name, s.Name, gate.LoopStart)
			}
		default:
			return fmt.Errorf("graph %s: gate %q action %s has unknown transition %q", g.name, s.Name, action, t.Kind)
		}
	}
	return nil
}
