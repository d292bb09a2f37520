package api

import (
	"encoding/json"
	"time"
)

// =============================================================================
// 运行类型
// =============================================================================

// StartRunRequest 启动一个 run。
// @Description 启动请求，由 Supervisor 按意图路由到 report 或 chat 工作流
type StartRunRequest struct {
	// 会话 ID，作为 run_id；为空时生成 uuid
	SessionID string `json:"session_id,omitempty" example:"sess-42"`
	// 用户身份，缺省时取 JWT 中的 user_id
	UserID string `json:"user_id,omitempty" example:"user-1"`
	// 用户请求
	Query string `json:"query" example:"Write a report on Q3 churn drivers" binding:"required"`
	// 工作流参数（例如 require_plan_approval）
	Params map[string]any `json:"params,omitempty"`
}

// ResumeRequest 人工审批决策。run_id 来自路径。
// @Description 恢复请求
type ResumeRequest struct {
	// approve, reject, edit_wording, edit_content
	Action string `json:"action" example:"approve" binding:"required"`
	// 编辑反馈，edit_* 动作使用
	Feedback string `json:"feedback,omitempty" example:"Shorter summary please"`
	// 直接修改的字段
	EditedFields map[string]any `json:"edited_fields,omitempty"`
	UserID       string         `json:"user_id,omitempty" example:"reviewer-1"`
	Comment      string         `json:"comment,omitempty"`
}

// CancelResponse 取消结果
// @Description 取消结果
type CancelResponse struct {
	RunID     string `json:"run_id" example:"sess-42"`
	Cancelled bool   `json:"cancelled" example:"true"`
}

// ClarificationResponse 意图不明确时返回，run 未创建。
// @Description 需要澄清
type ClarificationResponse struct {
	Question   string  `json:"question"`
	Intent     string  `json:"intent" example:"unknown"`
	Confidence float64 `json:"confidence" example:"0.3"`
}

// =============================================================================
// 审批类型
// =============================================================================

// ApprovalSummary 待处理审批请求的概要
// @Description 待处理审批
type ApprovalSummary struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	GateType   string          `json:"gate_type" example:"record_approval"`
	Stage      string          `json:"stage"`
	Iteration  int             `json:"iteration"`
	Actions    []string        `json:"actions"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	AgeSeconds int64           `json:"age_seconds"`
}

// =============================================================================
// 文档与记录类型
// =============================================================================

// IngestDocumentRequest 把文本文档加入证据索引
// @Description 文档入库请求
type IngestDocumentRequest struct {
	ID       string            `json:"id,omitempty" example:"doc-1"`
	Source   string            `json:"source,omitempty" example:"handbook.md"`
	Text     string            `json:"text" binding:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestDocumentResponse 文档入库结果
// @Description 文档入库结果
type IngestDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// RecordResponse 已保存的报告记录
// @Description 报告记录
type RecordResponse struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail API 错误
// @Description 错误详情
type ErrorDetail struct {
	Code      string `json:"code" example:"STALE_RESUME"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}
