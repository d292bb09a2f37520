package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/api"
	"github.com/BaSui01/reportflow/rag"
)

// Ingester 文档入库，由 *rag.Indexer 实现
type Ingester interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
}

var _ Ingester = (*rag.Indexer)(nil)

// DocumentHandler 证据文档处理器
type DocumentHandler struct {
	indexer Ingester
	logger  *zap.Logger
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(indexer Ingester, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{
		indexer: indexer,
		logger:  logger.With(zap.String("component", "document_handler")),
	}
}

// Register 注册文档路由
func (h *DocumentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.HandleIngest)
}

// HandleIngest 处理 POST /api/v1/documents
// @Summary 文档入库
// @Description 分块、向量化后写入证据索引，供 report 工作流检索
// @Tags documents
// @Accept json
// @Produce json
// @Param request body api.IngestDocumentRequest true "文档"
// @Success 201 {object} Response "入库结果"
// @Failure 400 {object} Response "文档为空"
// @Router /api/v1/documents [post]
func (h *DocumentHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.IngestDocumentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.indexer.Ingest(r.Context(), rag.IngestRequest{
		ID:       req.ID,
		Source:   req.Source,
		Text:     req.Text,
		Metadata: req.Metadata,
	})
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	h.logger.Info("document ingested",
		zap.String("document_id", res.DocumentID),
		zap.Int("chunks", len(res.ChunkIDs)))
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      api.IngestDocumentResponse{DocumentID: res.DocumentID, Chunks: len(res.ChunkIDs)},
		Timestamp: time.Now(),
	})
}
