package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyDocument 入库文本为空
var ErrEmptyDocument = errors.New("document text is empty")

// IngestRequest 一篇待入库的文档
type IngestRequest struct {
	ID       string            `json:"id,omitempty"`
	Source   string            `json:"source,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestResult 入库结果
type IngestResult struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// Indexer 分块、向量化并写入向量存储
type Indexer struct {
	chunker  *DocumentChunker
	embedder Embedder
	store    VectorStore
	logger   *zap.Logger
}

// NewIndexer 创建 Indexer
func NewIndexer(chunker *DocumentChunker, embedder Embedder, store VectorStore, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// ChunkID 文档第 i 块的 ID
func ChunkID(docID string, i int) string {
	return docID + "#" + strconv.Itoa(i)
}

// Ingest 入库一篇文档。相同 ID 重复入库会覆盖已有的块。
func (ix *Indexer) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyDocument
	}
	docID := req.ID
	if docID == "" {
		docID = uuid.NewString()
	}
	source := req.Source
	if source == "" {
		source = docID
	}

	chunks := ix.chunker.Chunk(req.Text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", docID, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed %s: got %d vectors for %d chunks", docID, len(vectors), len(chunks))
	}

	docs := make([]Document, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = ChunkID(docID, c.Index)
		meta := make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta["document_id"] = docID
		docs[i] = Document{
			ID:        ids[i],
			Source:    source,
			Content:   c.Content,
			Metadata:  meta,
			Embedding: vectors[i],
		}
	}
	if err := ix.store.Upsert(ctx, docs); err != nil {
		return nil, fmt.Errorf("store %s: %w", docID, err)
	}

	ix.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.Int("chunks", len(docs)))
	return &IngestResult{DocumentID: docID, ChunkIDs: ids}, nil
}
