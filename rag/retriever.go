package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RetrieverConfig 多查询检索配置
type RetrieverConfig struct {
	TopK          int     `json:"top_k" yaml:"top_k"`                   // 每个查询取回的候选数
	MaxResults    int     `json:"max_results" yaml:"max_results"`       // 合并后最多保留的证据数
	MinScore      float64 `json:"min_score" yaml:"min_score"`           // 低于该分数的候选丢弃
	Concurrency   int     `json:"concurrency" yaml:"concurrency"`       // 并发查询数
	SnippetLength int     `json:"snippet_length" yaml:"snippet_length"` // 证据片段最大字符数
}

// DefaultRetrieverConfig 默认检索配置
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:          5,
		MaxResults:    12,
		MinScore:      0.05,
		Concurrency:   4,
		SnippetLength: 600,
	}
}

// MultiQueryRetriever 对每个查询并发做向量检索，按文档去重后合并
type MultiQueryRetriever struct {
	embedder Embedder
	store    VectorStore
	config   RetrieverConfig
	logger   *zap.Logger
}

var _ Retriever = (*MultiQueryRetriever)(nil)

// NewMultiQueryRetriever 创建检索器
func NewMultiQueryRetriever(embedder Embedder, store VectorStore, config RetrieverConfig, logger *zap.Logger) *MultiQueryRetriever {
	def := DefaultRetrieverConfig()
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.SnippetLength <= 0 {
		config.SnippetLength = def.SnippetLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiQueryRetriever{
		embedder: embedder,
		store:    store,
		config:   config,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve 执行多查询检索。部分查询失败时返回 Degraded 的结果，
// 全部失败时返回错误。
func (r *MultiQueryRetriever) Retrieve(ctx context.Context, rc RunContext, queries []string) (EvidenceSet, error) {
	queries = NormalizeQueries(queries)
	if len(queries) == 0 && strings.TrimSpace(rc.Topic) != "" {
		queries = []string{strings.TrimSpace(rc.Topic)}
	}
	set := EvidenceSet{Queries: queries, Items: []Evidence{}}
	if len(queries) == 0 {
		return set, nil
	}

	vectors, err := r.embedder.Embed(ctx, queries)
	if err != nil {
		return set, fmt.Errorf("embed queries: %w", err)
	}

	hits := make([][]SearchHit, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for i := range queries {
		g.Go(func() error {
			res, err := r.store.Search(gctx, vectors[i], r.config.TopK)
			if err != nil {
				// 单个查询失败不取消其他查询
				errs[i] = err
				return nil
			}
			hits[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			r.logger.Warn("query failed",
				zap.String("run_id", rc.RunID),
				zap.String("query", queries[i]),
				zap.Error(err))
		}
	}
	if failed == len(queries) {
		return set, fmt.Errorf("all %d queries failed: %w", failed, errors.Join(errs...))
	}

	set.Items = r.merge(queries, hits)
	set.Degraded = failed > 0
	r.logger.Debug("retrieval completed",
		zap.String("run_id", rc.RunID),
		zap.Int("queries", len(queries)),
		zap.Int("evidence", len(set.Items)),
		zap.Bool("degraded", set.Degraded))
	return set, nil
}

func (r *MultiQueryRetriever) merge(queries []string, hits [][]SearchHit) []Evidence {
	best := make(map[string]Evidence)
	for i, list := range hits {
		for _, h := range list {
			if h.Score < r.config.MinScore {
				continue
			}
			if cur, ok := best[h.Document.ID]; ok && cur.Score >= h.Score {
				continue
			}
			best[h.Document.ID] = Evidence{
				DocumentID: h.Document.ID,
				Source:     h.Document.Source,
				Snippet:    truncateRunes(h.Document.Content, r.config.SnippetLength),
				Score:      h.Score,
				Query:      queries[i],
				Metadata:   h.Document.Metadata,
			}
		}
	}

	merged := make([]SearchHit, 0, len(best))
	for id, ev := range best {
		merged = append(merged, SearchHit{Document: Document{ID: id}, Score: ev.Score})
	}
	sortByScore(merged)
	if len(merged) > r.config.MaxResults {
		merged = merged[:r.config.MaxResults]
	}
	out := make([]Evidence, len(merged))
	for i, h := range merged {
		out[i] = best[h.Document.ID]
	}
	return out
}

// NormalizeQueries 去掉空查询和重复查询（大小写不敏感），保持原有顺序
func NormalizeQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
