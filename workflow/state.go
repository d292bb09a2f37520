package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// State run 的累积上下文
type State = checkpoint.State

// Delta 一个 stage 的输出，合并进 State 前会被编码为 JSON。
// 只能包含该 stage 声明的 Outputs。
type Delta map[string]any

// 执行器保留字段，stage 不能写
const (
	KeyLastDecision = hitl.StateKeyLastDecision
	KeyUserEdits    = hitl.StateKeyUserEdits
	KeyQueryHints   = "query_hints"
	KeyOutcome      = "outcome"
)

var reservedKeys = map[string]struct{}{
	KeyLastDecision: {},
	KeyUserEdits:    {},
	KeyQueryHints:   {},
	KeyOutcome:      {},
}

// IsReserved 判断字段是否由执行器/控制器持有
func IsReserved(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// Outcome run 的终态结果
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeGaveUp    Outcome = "gave_up"
	OutcomeAborted   Outcome = "aborted"
)

// Saveable 终态 stage 是否应当提交记录
func (o Outcome) Saveable() bool {
	return o == OutcomeCompleted || o == OutcomeApproved
}

// OutcomeOf 读取 State 中的 outcome，没有时视为 completed
func OutcomeOf(s State) Outcome {
	var o Outcome
	if ok, err := s.Get(KeyOutcome, &o); !ok || err != nil || o == "" {
		return OutcomeCompleted
	}
	return o
}

// QueryHints 读取宽循环累积的反馈
func QueryHints(s State) []string {
	var hints []string
	_, _ = s.Get(KeyQueryHints, &hints)
	return hints
}

// UserEdits 读取人工编辑过的字段
func UserEdits(s State) map[string]any {
	edits := map[string]any{}
	_, _ = s.Get(KeyUserEdits, &edits)
	return edits
}

// LastDecision 读取最近一次合并的人工决策
func LastDecision(s State) (hitl.DecisionRecord, bool) {
	var d hitl.DecisionRecord
	ok, err := s.Get(KeyLastDecision, &d)
	return d, ok && err == nil
}

// NewState 由请求参数构造初始 State
func NewState(initial map[string]any) (State, error) {
	st := make(State, len(initial))
	for k, v := range initial {
		if IsReserved(k) {
			return nil, fmt.Errorf("%w: %q is reserved", ErrFieldOwnership, k)
		}
		if err := st.Set(k, v); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Project 返回 State 中指定字段的子集（原始 JSON）
func Project(s State, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := s[k]; ok {
			out[k] = v
		}
	}
	return out
}
