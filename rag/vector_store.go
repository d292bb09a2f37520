package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量数据库接口
type VectorStore interface {
	// Upsert 按 ID 插入或覆盖文档
	Upsert(ctx context.Context, docs []Document) error

	// Search 返回与查询向量最相似的 topK 个文档，按分数降序
	Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchHit, error)

	Delete(ctx context.Context, ids []string) error

	Count(ctx context.Context) (int, error)
}

// SearchHit 向量搜索结果
type SearchHit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// ====== 内存向量存储（用于测试和小规模部署）======

// InMemoryVectorStore 内存向量存储
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	logger    *zap.Logger
}

var _ VectorStore = (*InMemoryVectorStore)(nil)

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		documents: make(map[string]Document),
		logger:    logger.With(zap.String("component", "vector_store")),
	}
}

// Upsert 添加或覆盖文档
func (s *InMemoryVectorStore) Upsert(ctx context.Context, docs []Document) error {
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s: %w", doc.ID, ErrNoEmbedding)
		}
	}

	s.mu.Lock()
	for _, doc := range docs {
		doc.Embedding = append([]float64(nil), doc.Embedding...)
		s.documents[doc.ID] = doc
	}
	total := len(s.documents)
	s.mu.Unlock()

	s.logger.Debug("documents upserted",
		zap.Int("count", len(docs)),
		zap.Int("total", total))
	return nil
}

// Search 搜索相似文档
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []SearchHit{}, nil
	}

	s.mu.RLock()
	results := make([]SearchHit, 0, len(s.documents))
	for _, doc := range s.documents {
		results = append(results, SearchHit{
			Document: doc,
			Score:    cosineSimilarity(queryEmbedding, doc.Embedding),
		})
	}
	s.mu.RUnlock()

	sortByScore(results)
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// Delete 删除文档，不存在的 ID 被忽略
func (s *InMemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.documents[id]; ok {
			delete(s.documents, id)
			deleted++
		}
	}
	s.logger.Debug("documents deleted",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(s.documents)))
	return nil
}

// Count 文档数量
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// cosineSimilarity 余弦相似度，维度不一致或零向量时为 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore 分数降序，分数相同按 ID 升序保证结果稳定
func sortByScore(results []SearchHit) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Document.ID < results[j].Document.ID
		}
		return results[i].Score > results[j].Score
	})
}
