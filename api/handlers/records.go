package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/api"
	"github.com/BaSui01/reportflow/agent/records"
)

// RecordReader 读取已提交的报告记录
type RecordReader interface {
	Get(ctx context.Context, id string) (*records.Record, error)
	ListByRun(ctx context.Context, runID string) ([]*records.Record, error)
}

var _ RecordReader = records.Store(nil)

// RecordHandler 报告记录处理器
type RecordHandler struct {
	store  RecordReader
	logger *zap.Logger
}

// NewRecordHandler 创建记录处理器
func NewRecordHandler(store RecordReader, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{
		store:  store,
		logger: logger.With(zap.String("component", "record_handler")),
	}
}

// Register 注册记录路由
func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/records/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/runs/{id}/records", h.HandleListByRun)
}

// HandleGet 处理 GET /api/v1/records/{id}
// @Summary 查询报告记录
// @Tags records
// @Produce json
// @Param id path string true "记录 ID"
// @Success 200 {object} Response "记录"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/records/{id} [get]
func (h *RecordHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toRecordResponse(rec))
}

// HandleListByRun 处理 GET /api/v1/runs/{id}/records
// @Summary 某个 run 提交的记录
// @Tags records
// @Produce json
// @Param id path string true "run ID"
// @Success 200 {object} Response "记录列表"
// @Router /api/v1/runs/{id}/records [get]
func (h *RecordHandler) HandleListByRun(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListByRun(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	out := make([]api.RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	WriteSuccess(w, out)
}

func toRecordResponse(rec *records.Record) api.RecordResponse {
	return api.RecordResponse{
		ID:        rec.ID,
		RunID:     rec.RunID,
		Kind:      rec.Kind,
		Payload:   rec.Payload,
		CreatedAt: rec.CreatedAt,
	}
}
