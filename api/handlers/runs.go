package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/api"
	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/agent/supervisor"
	"github.com/BaSui01/reportflow/types"
	"github.com/BaSui01/reportflow/workflow"
)

// =============================================================================
// 🏃 Run 接口 Handler
// =============================================================================

// RunService run 的生命周期操作，由 *supervisor.Supervisor 实现
type RunService interface {
	Handle(ctx context.Context, req supervisor.Request) (*workflow.Result, error)
	Resume(ctx context.Context, d hitl.ResumeDecision) (*workflow.Result, error)
	Cancel(ctx context.Context, runID string) error
	Status(ctx context.Context, runID string) (*workflow.RunStatus, error)
}

// EventSource 进度事件订阅，由 *streaming.Bus 实现
type EventSource interface {
	Subscribe(ctx context.Context, runID string) (<-chan streaming.Event, func(), error)
}

var (
	_ RunService  = (*supervisor.Supervisor)(nil)
	_ EventSource = (*streaming.Bus)(nil)
)

// RunHandler run 接口处理器
type RunHandler struct {
	runs           RunService
	events         EventSource
	originPatterns []string
	logger         *zap.Logger
}

// RunHandlerOption 配置 RunHandler
type RunHandlerOption func(*RunHandler)

// WithOriginPatterns 允许跨域 WebSocket 连接的 Origin 模式
func WithOriginPatterns(patterns []string) RunHandlerOption {
	return func(h *RunHandler) {
		h.originPatterns = patterns
	}
}

// NewRunHandler 创建 run 处理器
func NewRunHandler(runs RunService, events EventSource, logger *zap.Logger, opts ...RunHandlerOption) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RunHandler{
		runs:   runs,
		events: events,
		logger: logger.With(zap.String("component", "run_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册 run 相关路由
func (h *RunHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.HandleStart)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.HandleStatus)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", h.HandleCancel)
	mux.HandleFunc("POST /api/v1/runs/{id}/resume", h.HandleResume)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", h.HandleEvents)
	mux.HandleFunc("GET /api/v1/runs/{id}/ws", h.HandleWebSocket)
}

// HandleStart 处理 POST /api/v1/runs
// @Summary 启动 run
// @Description 按意图路由并启动工作流；意图不明确时返回 422，不创建 run
// @Tags runs
// @Accept json
// @Produce json
// @Param request body api.StartRunRequest true "启动请求"
// @Success 200 {object} Response "run 结果（completed 或 suspended）"
// @Failure 422 {object} Response "需要澄清"
// @Router /api/v1/runs [post]
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "query is required", h.logger)
		return
	}
	if req.UserID == "" {
		req.UserID, _ = types.UserID(r.Context())
	}

	res, err := h.runs.Handle(r.Context(), supervisor.Request{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Query:     req.Query,
		Params:    req.Params,
	})
	if err != nil {
		var clarify *supervisor.ClarificationNeeded
		if errors.As(err, &clarify) {
			writeErrorWithData(w, clarify.AsError(), api.ClarificationResponse{
				Question:   clarify.Question,
				Intent:     string(clarify.Classification.Intent),
				Confidence: clarify.Classification.Confidence,
			}, h.logger)
			return
		}
		WriteDomainError(w, err, h.logger)
		return
	}
	h.writeResult(w, res)
}

// HandleResume 处理 POST /api/v1/runs/{id}/resume
// @Summary 投递审批决策
// @Description 重复或过期的决策返回 409
// @Tags runs
// @Accept json
// @Produce json
// @Param id path string true "run ID"
// @Param request body api.ResumeRequest true "审批决策"
// @Success 200 {object} Response "run 结果"
// @Failure 409 {object} Response "过期的恢复请求"
// @Router /api/v1/runs/{id}/resume [post]
func (h *RunHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	action, err := hitl.ParseAction(req.Action)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidDecision, err.Error()).WithRunID(runID), h.logger)
		return
	}
	if req.UserID == "" {
		req.UserID, _ = types.UserID(r.Context())
	}

	res, err := h.runs.Resume(r.Context(), hitl.ResumeDecision{
		RunID:        runID,
		Action:       action,
		Feedback:     req.Feedback,
		EditedFields: req.EditedFields,
		UserID:       req.UserID,
		Comment:      req.Comment,
	})
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	h.writeResult(w, res)
}

// HandleCancel 处理 DELETE /api/v1/runs/{id}
// @Summary 取消 run
// @Tags runs
// @Produce json
// @Param id path string true "run ID"
// @Success 200 {object} Response "已取消"
// @Failure 404 {object} Response "run 不存在"
// @Router /api/v1/runs/{id} [delete]
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if err := h.runs.Cancel(r.Context(), runID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.CancelResponse{RunID: runID, Cancelled: true})
}

// HandleStatus 处理 GET /api/v1/runs/{id}
// @Summary 查询 run
// @Tags runs
// @Produce json
// @Param id path string true "run ID"
// @Success 200 {object} Response "检查点与待处理审批"
// @Failure 404 {object} Response "run 不存在"
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.runs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, status)
}

// HandleEvents 处理 GET /api/v1/runs/{id}/events（SSE）
// @Summary 订阅进度事件
// @Description text/event-stream；收到 interrupt、completed、cancelled 或 failed 后结束
// @Tags runs
// @Produce text/event-stream
// @Param id path string true "run ID"
// @Success 200 {string} string "事件流"
// @Failure 409 {object} Response "已有订阅者"
// @Router /api/v1/runs/{id}/events [get]
func (h *RunHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	events, unsubscribe, err := h.events.Subscribe(r.Context(), runID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	defer unsubscribe()

	if err := streaming.WriteSSE(r.Context(), w, events); err != nil {
		if errors.Is(err, streaming.ErrStreamingUnsupported) {
			WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
			return
		}
		h.logger.Debug("event stream ended", zap.String("run_id", runID), zap.Error(err))
	}
}

// HandleWebSocket 处理 GET /api/v1/runs/{id}/ws
// @Summary 通过 WebSocket 订阅进度事件
// @Tags runs
// @Param id path string true "run ID"
// @Success 101 {string} string "Switching Protocols"
// @Failure 409 {object} Response "已有订阅者"
// @Router /api/v1/runs/{id}/ws [get]
func (h *RunHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	// 先订阅，冲突时还能返回普通 HTTP 错误
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, unsubscribe, err := h.events.Subscribe(ctx, runID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	// 只写不读；CloseRead 处理控制帧，客户端断开时取消 ctx
	ctx = conn.CloseRead(ctx)

	sink := streaming.NewWebSocketSink(conn, h.logger)
	if err := sink.Pump(ctx, events); err != nil {
		h.logger.Debug("websocket stream ended", zap.String("run_id", runID), zap.Error(err))
	}
}

// writeResult 写出 run 结果。failed 表示瞬时故障重试耗尽，返回 503，客户端可重试。
func (h *RunHandler) writeResult(w http.ResponseWriter, res *workflow.Result) {
	if res.Status == workflow.StatusFailed && res.Error != nil {
		writeErrorWithData(w, res.Error, res, h.logger)
		return
	}
	WriteSuccess(w, res)
}
