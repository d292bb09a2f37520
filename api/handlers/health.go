package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthPaths 健康端点，不走认证
var HealthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// PingCheck 一个依赖的就绪探测：运行存储、数据库、Redis、Qdrant
type PingCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// VersionInfo /version 的响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// HealthStatus /health 与 /ready 的响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个依赖的探测结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthHandler 存活、就绪与版本端点
type HealthHandler struct {
	checks  []PingCheck
	version VersionInfo
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler 创建健康检查处理器，checks 在 /ready 时并发执行
func NewHealthHandler(version VersionInfo, logger *zap.Logger, checks ...PingCheck) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		checks:  checks,
		version: version,
		timeout: 5 * time.Second,
		logger:  logger.With(zap.String("component", "health")),
	}
}

// Register 注册 /health、/healthz、/ready、/readyz 与 /version
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleLive)
	mux.HandleFunc("GET /healthz", h.HandleLive)
	mux.HandleFunc("GET /ready", h.HandleReady)
	mux.HandleFunc("GET /readyz", h.HandleReady)
	mux.HandleFunc("GET /version", h.HandleVersion)
}

// HandleLive 存活探针，不检查依赖
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /healthz [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 就绪探针，任一依赖失败返回 503
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(h.checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := check.Ping(ctx)
			result := CheckResult{Status: "pass", Latency: time.Since(start).String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				h.logger.Warn("readiness check failed", zap.String("check", check.Name), zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			status.Checks[check.Name] = result
			if err != nil {
				status.Status = "unhealthy"
			}
		}()
	}
	wg.Wait()

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleVersion 版本信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} VersionInfo
// @Router /version [get]
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.version)
}
