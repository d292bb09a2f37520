package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/internal/tlsutil"
)

// QdrantConfig Qdrant 向量存储配置。
// Qdrant 的 point ID 必须是 UUID，这里由 Document.ID 派生出稳定的 UUID，
// 原始 ID 存在 payload 中。
type QdrantConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	AutoCreateCollection bool   `json:"auto_create_collection,omitempty"`
	Distance             string `json:"distance,omitempty"` // Cosine (default), Dot, Euclid
}

// QdrantStore 基于 Qdrant REST API 的 VectorStore
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureMu    sync.Mutex
	ensuredSize int
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore 创建 Qdrant 向量存储
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("6f1c8a52-2b7e-4d0e-9a35-0c4e8d7b91f3")

func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

type qdrantPayload struct {
	DocID    string            `json:"doc_id"`
	Source   string            `json:"source,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *QdrantStore) collectionPath(suffix string) (string, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return "", fmt.Errorf("qdrant collection is required")
	}
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix, nil
}

// ensureCollection 首次写入时按向量维度建集合。集合已存在时 Qdrant 返回 409。
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensuredSize == vectorSize {
		return nil
	}

	path, err := s.collectionPath("")
	if err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": s.cfg.Distance},
	}
	status, err := s.do(ctx, http.MethodPut, path, body, nil)
	if err != nil && status != http.StatusConflict {
		return err
	}
	s.ensuredSize = vectorSize
	s.logger.Info("qdrant collection ready",
		zap.String("collection", s.cfg.Collection),
		zap.Int("vector_size", vectorSize))
	return nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(s.cfg.APIKey); key != "" {
		req.Header.Set("api-key", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// Ping 调用 Qdrant 的就绪探针，供 /ready 使用
func (s *QdrantStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/readyz", nil, nil)
	return err
}

// Upsert 写入文档，所有文档的向量维度必须一致
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	path, err := s.collectionPath("/points?wait=true")
	if err != nil {
		return err
	}

	size := len(docs[0].Embedding)
	type point struct {
		ID      string        `json:"id"`
		Vector  []float64     `json:"vector"`
		Payload qdrantPayload `json:"payload"`
	}
	points := make([]point, 0, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s: %w", doc.ID, ErrNoEmbedding)
		}
		if len(doc.Embedding) != size {
			return fmt.Errorf("document %s: embedding dimension mismatch: got=%d want=%d", doc.ID, len(doc.Embedding), size)
		}
		points = append(points, point{
			ID:     qdrantPointID(doc.ID),
			Vector: doc.Embedding,
			Payload: qdrantPayload{
				DocID:    doc.ID,
				Source:   doc.Source,
				Content:  doc.Content,
				Metadata: doc.Metadata,
			},
		})
	}

	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return err
	}
	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

// Search 相似度搜索
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchHit, error) {
	path, err := s.collectionPath("/points/search")
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []SearchHit{}, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := map[string]any{
		"vector":       queryEmbedding,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any           `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		doc := Document{
			ID:       r.Payload.DocID,
			Source:   r.Payload.Source,
			Content:  r.Payload.Content,
			Metadata: r.Payload.Metadata,
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprint(r.ID)
		}
		out = append(out, SearchHit{Document: doc, Score: r.Score})
	}
	return out, nil
}

// Delete 按原始文档 ID 删除
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	path, err := s.collectionPath("/points/delete?wait=true")
	if err != nil {
		return err
	}
	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			points = append(points, qdrantPointID(id))
		}
	}
	if len(points) == 0 {
		return nil
	}
	_, err = s.do(ctx, http.MethodPost, path, map[string]any{"points": points}, nil)
	return err
}

// Count 精确计数
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	path, err := s.collectionPath("/points/count")
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}
