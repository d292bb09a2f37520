package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// GateType 定义 HITL gate 的类型。每种 gate 有自己的 payload 结构和合法动作。
type GateType string

const (
	GatePlanApproval   GateType = "plan_approval"
	GateRecordApproval GateType = "record_approval"
)

// Action 人工决策动作
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionEditWording Action = "edit_wording"
	ActionEditContent Action = "edit_content"
)

// ParseAction 解析动作字符串
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionEditWording, ActionEditContent:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// 哨兵错误
var (
	// ErrApprovalNotFound run 没有待处理的审批请求
	ErrApprovalNotFound = errors.New("approval request not found")
	// ErrInvalidAction 动作不被当前 gate 接受，审批请求不会被消费
	ErrInvalidAction = errors.New("invalid decision action")
)

// ApprovalRequest 挂起时提给人的结构化问题
type ApprovalRequest struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	GateType   GateType        `json:"gate_type"`
	Stage      string          `json:"stage"`
	StageIndex int             `json:"stage_index"`
	Iteration  int             `json:"iteration"`
	Actions    []Action        `json:"actions"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Allows 判断动作是否被该 gate 接受
func (r *ApprovalRequest) Allows(a Action) bool {
	return slices.Contains(r.Actions, a)
}

// Clone 返回深拷贝
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Actions = slices.Clone(r.Actions)
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &out
}

// ResumeDecision 人工给出的恢复决策，通过 run_id 与审批请求关联
type ResumeDecision struct {
	RunID        string         `json:"run_id"`
	Action       Action         `json:"action"`
	Feedback     string         `json:"feedback,omitempty"`
	EditedFields map[string]any `json:"edited_fields,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Comment      string         `json:"comment,omitempty"`
}

// DecisionRecord 合并进 State 的 last_decision 字段
type DecisionRecord struct {
	ApprovalID string    `json:"approval_id"`
	GateType   GateType  `json:"gate_type"`
	Action     Action    `json:"action"`
	Feedback   string    `json:"feedback,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Iteration  int       `json:"iteration"`
	DecidedAt  time.Time `json:"decided_at"`
}

// StaleResumeError 恢复请求没有匹配的、未被消费的审批请求。
// 这是幂等的空操作失败，调用方不应自动重试。
type StaleResumeError struct {
	RunID  string
	Reason string
}

func (e *StaleResumeError) Error() string {
	return fmt.Sprintf("stale resume for run %s: %s", e.RunID, e.Reason)
}

// IsStaleResume 检查 err 链中是否有 StaleResumeError
func IsStaleResume(err error) bool {
	var stale *StaleResumeError
	return errors.As(err, &stale)
}

// ApprovalStore 审批请求存储接口。每个 run 至多一个待处理请求。
type ApprovalStore interface {
	// Save 保存（覆盖）run 的待处理请求
	Save(ctx context.Context, req *ApprovalRequest) error

	// Get 加载待处理请求，不存在时返回 ErrApprovalNotFound
	Get(ctx context.Context, runID string) (*ApprovalRequest, error)

	// Take 仅当待处理请求的 ID 等于 approvalID 时删除它。
	// 并发调用中只有一个能成功，其余返回 ErrApprovalNotFound。
	Take(ctx context.Context, runID, approvalID string) error

	// Delete 无条件删除，不存在时不报错
	Delete(ctx context.Context, runID string) error

	// List 列出全部待处理请求
	List(ctx context.Context) ([]*ApprovalRequest, error)
}
