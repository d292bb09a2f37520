package rag

import (
	"strings"

	"go.uber.org/zap"
)

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`         // 块大小（tokens）
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`   // 重叠大小（tokens）
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"` // 小于它的尾块并入前一块
}

// DefaultChunkingConfig 默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    512,
		ChunkOverlap: 64,
		MinChunkSize: 32,
	}
}

// Chunk 文档块
type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// Tokenizer 分词器接口
type Tokenizer interface {
	CountTokens(text string) int
}

// DocumentChunker 文档分块器。优先在段落、行、句子边界切分，
// 单个片段仍然超长时才按词切分。
type DocumentChunker struct {
	config    ChunkingConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// 分隔符优先级：段落 > 行 > 句子 > 单词
var chunkSeparators = []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}

// NewDocumentChunker 创建文档分块器
func NewDocumentChunker(config ChunkingConfig, tokenizer Tokenizer, logger *zap.Logger) *DocumentChunker {
	def := DefaultChunkingConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if config.MinChunkSize < 0 {
		config.MinChunkSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentChunker{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "chunker")),
	}
}

// Chunk 把文本切成不超过 ChunkSize 的块。开启重叠时，后一块以前一块末尾
// 不超过 ChunkOverlap 的词开头。
func (c *DocumentChunker) Chunk(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for _, p := range c.split(text, chunkSeparators) {
		if p = strings.TrimSpace(p); p != "" {
			pieces = append(pieces, p)
		}
	}
	pieces = c.mergeSmallTail(pieces)
	if c.config.ChunkOverlap > 0 {
		pieces = c.addOverlap(pieces)
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Index: i, Content: p, TokenCount: c.tokenizer.CountTokens(p)}
	}

	c.logger.Debug("chunking completed",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.config.ChunkSize),
		zap.Int("overlap", c.config.ChunkOverlap))
	return chunks
}

// split 递归分割：按当前分隔符贪心装箱，放不下的片段交给下一级分隔符
func (c *DocumentChunker) split(text string, separators []string) []string {
	if c.tokenizer.CountTokens(text) <= c.config.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.splitHard(text)
	}

	sep := separators[0]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return c.split(text, separators[1:])
	}

	var out []string
	var current strings.Builder
	for _, part := range parts {
		if c.tokenizer.CountTokens(part) > c.config.ChunkSize {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, c.split(part, separators[1:])...)
			continue
		}
		if current.Len() > 0 && c.tokenizer.CountTokens(current.String()+part) > c.config.ChunkSize {
			out = append(out, current.String())
			current.Reset()
		}
		current.WriteString(part)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// splitHard 没有可用分隔符时按 rune 切分，每段取能放下的最长前缀
func (c *DocumentChunker) splitHard(text string) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); {
		lo, hi := start+1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if c.tokenizer.CountTokens(string(runes[start:mid])) <= c.config.ChunkSize {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		out = append(out, string(runes[start:lo]))
		start = lo
	}
	return out
}

func (c *DocumentChunker) mergeSmallTail(pieces []string) []string {
	if len(pieces) < 2 || c.config.MinChunkSize == 0 {
		return pieces
	}
	last := pieces[len(pieces)-1]
	if c.tokenizer.CountTokens(last) >= c.config.MinChunkSize {
		return pieces
	}
	merged := pieces[len(pieces)-2] + "\n" + last
	if c.tokenizer.CountTokens(merged) > c.config.ChunkSize {
		return pieces
	}
	return append(pieces[:len(pieces)-2], merged)
}

// addOverlap 把前一块末尾的若干个词加到下一块开头
func (c *DocumentChunker) addOverlap(pieces []string) []string {
	if len(pieces) <= 1 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		words := strings.Fields(pieces[i-1])
		var tail []string
		for j := len(words) - 1; j >= 0; j-- {
			candidate := append([]string{words[j]}, tail...)
			if c.tokenizer.CountTokens(strings.Join(candidate, " ")) > c.config.ChunkOverlap {
				break
			}
			tail = candidate
		}
		if len(tail) == 0 {
			out[i] = pieces[i]
			continue
		}
		out[i] = strings.Join(tail, " ") + " " + pieces[i]
	}
	return out
}

// WordTokenizer 按空白切分计数，适合测试与无模型场景
type WordTokenizer struct{}

func (WordTokenizer) CountTokens(text string) int { return len(strings.Fields(text)) }
