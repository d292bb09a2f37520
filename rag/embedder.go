package rag

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultEmbeddingDimension HashEmbedder 的默认维度
const DefaultEmbeddingDimension = 256

// Embedder 文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// HashEmbedder 特征哈希向量化：词项哈希到固定维度的桶中，带符号位，
// 最后做 L2 归一化。相同文本总是得到相同向量，不需要外部模型。
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder 创建 HashEmbedder，dim <= 0 时使用默认维度
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dim)
	terms := Terms(text)
	for _, term := range terms {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum>>63 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	// 相邻词对让短语顺序也参与相似度
	for i := 1; i < len(terms); i++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte(terms[i-1] + " " + terms[i]))
		sum := h.Sum64()
		vec[int(sum%uint64(e.dim))] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Terms 小写化并按非字母数字切分。CJK 字符逐字成词。
func Terms(text string) []string {
	var terms []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			terms = append(terms, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			terms = append(terms, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return terms
}
