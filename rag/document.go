package rag

import (
	"context"
	"errors"
)

// ErrNoEmbedding 文档缺少向量
var ErrNoEmbedding = errors.New("document has no embedding")

// Document 向量存储中的一个文本块
type Document struct {
	ID        string            `json:"id"`
	Source    string            `json:"source,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float64         `json:"-"`
}

// Evidence 一条检索到的证据
type Evidence struct {
	DocumentID string            `json:"document_id"`
	Source     string            `json:"source,omitempty"`
	Snippet    string            `json:"snippet"`
	Score      float64           `json:"score"`
	Query      string            `json:"query"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EvidenceSet 一次检索的结果。Degraded 表示部分查询失败，结果可能不完整。
type EvidenceSet struct {
	Queries  []string   `json:"queries"`
	Items    []Evidence `json:"items"`
	Degraded bool       `json:"degraded,omitempty"`
}

// Empty 是否没有任何证据
func (s EvidenceSet) Empty() bool { return len(s.Items) == 0 }

// Sources 去重后的证据来源，按首次出现的顺序
func (s EvidenceSet) Sources() []string {
	seen := make(map[string]struct{}, len(s.Items))
	out := make([]string, 0, len(s.Items))
	for _, ev := range s.Items {
		src := ev.Source
		if src == "" {
			src = ev.DocumentID
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

// RunContext 检索调用方所在的 run
type RunContext struct {
	RunID string `json:"run_id"`
	Topic string `json:"topic,omitempty"`
}

// Retriever 证据检索接口
type Retriever interface {
	Retrieve(ctx context.Context, rc RunContext, queries []string) (EvidenceSet, error)
}

// RetrieverFunc 函数适配器
type RetrieverFunc func(ctx context.Context, rc RunContext, queries []string) (EvidenceSet, error)

// Retrieve 实现 Retriever
func (f RetrieverFunc) Retrieve(ctx context.Context, rc RunContext, queries []string) (EvidenceSet, error) {
	return f(ctx, rc, queries)
}
