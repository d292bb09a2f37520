package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/api"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// ApprovalLister 列出待处理审批请求，由 *hitl.Controller 实现
type ApprovalLister interface {
	List(ctx context.Context) ([]*hitl.ApprovalRequest, error)
}

var _ ApprovalLister = (*hitl.Controller)(nil)

// ApprovalHandler 审批队列处理器
type ApprovalHandler struct {
	approvals ApprovalLister
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalHandler 创建审批队列处理器
func NewApprovalHandler(approvals ApprovalLister, logger *zap.Logger) *ApprovalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalHandler{
		approvals: approvals,
		logger:    logger.With(zap.String("component", "approval_handler")),
		now:       time.Now,
	}
}

// Register 注册审批队列路由
func (h *ApprovalHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/approvals", h.HandleList)
}

// HandleList 处理 GET /api/v1/approvals
// @Summary 待处理审批
// @Description 按创建时间升序返回；gate_type 参数可过滤
// @Tags approvals
// @Produce json
// @Param gate_type query string false "plan_approval 或 record_approval"
// @Success 200 {object} Response "审批列表"
// @Router /api/v1/approvals [get]
func (h *ApprovalHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.approvals.List(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	gate := hitl.GateType(r.URL.Query().Get("gate_type"))
	now := h.now()
	out := make([]api.ApprovalSummary, 0, len(reqs))
	for _, req := range reqs {
		if gate != "" && req.GateType != gate {
			continue
		}
		actions := make([]string, len(req.Actions))
		for i, a := range req.Actions {
			actions[i] = string(a)
		}
		out = append(out, api.ApprovalSummary{
			ID:         req.ID,
			RunID:      req.RunID,
			GateType:   string(req.GateType),
			Stage:      req.Stage,
			Iteration:  req.Iteration,
			Actions:    actions,
			Payload:    req.Payload,
			CreatedAt:  req.CreatedAt,
			AgeSeconds: int64(now.Sub(req.CreatedAt) / time.Second),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	WriteSuccess(w, out)
}
