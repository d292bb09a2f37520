package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/types"
)

// Request 用户请求
type Request struct {
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Query     string         `json:"query"`
	Params    map[string]any `json:"params,omitempty"`
}

// Selection 路由结果
type Selection struct {
	Graph          string         `json:"graph"`
	Classification Classification `json:"classification"`
	Initial        map[string]any `json:"initial"`
}

// ClarificationNeeded 意图不明确，需要用户补充信息。不会创建 run。
type ClarificationNeeded struct {
	Classification Classification `json:"classification"`
	Question       string         `json:"question"`
}

func (c *ClarificationNeeded) Error() string {
	return fmt.Sprintf("clarification needed: intent %s (confidence %.2f)", c.Classification.Intent, c.Classification.Confidence)
}

// AsError 转换为带 HTTP 状态的统一错误
func (c *ClarificationNeeded) AsError() *types.Error {
	return types.NewError(types.ErrClarificationNeeded, c.Question).
		WithHTTPStatus(http.StatusUnprocessableEntity).
		WithCause(c)
}

// RouterConfig 路由配置
type RouterConfig struct {
	// MinConfidence 低于该置信度的分类要求澄清
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	// Routes 意图到工作流名
	Routes map[Intent]string `yaml:"routes" env:"-"`
	// ClarifyQuestion 返回给用户的澄清问题
	ClarifyQuestion string `yaml:"clarify_question" env:"CLARIFY_QUESTION"`
}

// DefaultRouterConfig 默认路由：report → report 工作流，chat → chat 工作流
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinConfidence: 0.6,
		Routes: map[Intent]string{
			IntentReport: "report",
			IntentChat:   "chat",
		},
		ClarifyQuestion: "Could you tell me whether you want a report (and on what topic) or just want to chat?",
	}
}

// RouteRecorder 路由指标，internal/metrics.Collector 实现了它
type RouteRecorder interface {
	RecordRoute(intent string)
	RecordClarification()
}

type nopRouteRecorder struct{}

func (nopRouteRecorder) RecordRoute(string)   {}
func (nopRouteRecorder) RecordClarification() {}

// Router 意图路由
type Router struct {
	classifier Classifier
	config     RouterConfig
	recorder   RouteRecorder
	logger     *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(classifier Classifier, config RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRouterConfig()
	if len(config.Routes) == 0 {
		config.Routes = defaults.Routes
	}
	if config.ClarifyQuestion == "" {
		config.ClarifyQuestion = defaults.ClarifyQuestion
	}
	return &Router{
		classifier: classifier,
		config:     config,
		recorder:   nopRouteRecorder{},
		logger:     logger.With(zap.String("component", "router")),
	}
}

// WithRecorder 设置路由指标
func (r *Router) WithRecorder(rec RouteRecorder) *Router {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Route 分类并选择工作流。意图未知、没有对应工作流或置信度不足时返回 *ClarificationNeeded。
func (r *Router) Route(ctx context.Context, req Request) (*Selection, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query is required").WithHTTPStatus(http.StatusBadRequest)
	}

	cls, err := r.classifier.Classify(ctx, query)
	if err != nil {
		return nil, types.Transient("classify request", err)
	}
	r.logger.Debug("classified request",
		zap.String("intent", string(cls.Intent)),
		zap.Float64("confidence", cls.Confidence))

	graph, ok := r.config.Routes[cls.Intent]
	if !ok || cls.Intent == IntentUnknown || cls.Confidence < r.config.MinConfidence {
		r.recorder.RecordClarification()
		return nil, &ClarificationNeeded{Classification: *cls, Question: r.config.ClarifyQuestion}
	}
	r.recorder.RecordRoute(string(cls.Intent))

	initial := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		initial[k] = v
	}
	initial["query"] = query
	if req.UserID != "" {
		initial["user_id"] = req.UserID
	}
	return &Selection{Graph: graph, Classification: *cls, Initial: initial}, nil
}
