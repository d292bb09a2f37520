package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/internal/cache"
)

// CacheRecorder 缓存命中指标
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const cacheType = "classification"

// CachedClassifier 用 Redis 缓存分类结果。缓存故障只记日志，不影响分类。
type CachedClassifier struct {
	inner    Classifier
	cache    *cache.Manager
	ttl      time.Duration
	recorder CacheRecorder
	logger   *zap.Logger
}

// NewCachedClassifier 创建带缓存的分类器
func NewCachedClassifier(inner Classifier, manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClassifier{
		inner:  inner,
		cache:  manager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "classification_cache")),
	}
}

// WithRecorder 设置命中率指标
func (c *CachedClassifier) WithRecorder(rec CacheRecorder) *CachedClassifier {
	c.recorder = rec
	return c
}

// classificationKey 归一化空白与大小写后取摘要
func classificationKey(text string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(norm))
	return "classify:" + hex.EncodeToString(sum[:])
}

// Classify 实现 Classifier
func (c *CachedClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	key := classificationKey(text)

	var cached Classification
	err := c.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		if c.recorder != nil {
			c.recorder.RecordCacheHit(cacheType)
		}
		return &cached, nil
	}
	if c.recorder != nil {
		c.recorder.RecordCacheMiss(cacheType)
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("classification cache read failed", zap.Error(err))
	}

	cls, err := c.inner.Classify(ctx, text)
	if err != nil {
		return nil, err
	}
	// 兜底结果不缓存，模型恢复后应当重新分类
	if cls.Intent != IntentUnknown {
		if err := c.cache.SetJSON(ctx, key, cls, c.ttl); err != nil {
			c.logger.Warn("classification cache write failed", zap.Error(err))
		}
	}
	return cls, nil
}
