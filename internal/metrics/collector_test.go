package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/workflow"
)

var _ workflow.Observer = (*Collector)(nil)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.runsStarted)
	assert.NotNil(t, collector.stageDuration)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.llmTokensUsed)

	// nil logger 也可用
	assert.NotNil(t, NewCollector(nextTestNamespace(), nil))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/v1/runs/{id}", 200, 100*time.Millisecond, 1024)
	collector.RecordHTTPRequest("GET", "/v1/runs/{id}", 204, 50*time.Millisecond, 0)
	collector.RecordHTTPRequest("POST", "/v1/runs", 422, 10*time.Millisecond, 128)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/v1/runs/{id}", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/runs", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_WorkflowObserver(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RunStarted("report")
	collector.RunStarted("report")
	collector.RunFinished("report", "awaiting_approval")
	collector.StageFinished("report", "draft", 2*time.Second, nil)
	collector.StageFinished("report", "draft", time.Second, errors.New("boom"))
	collector.StageRetried("report", "draft")
	collector.Suspended("report", "draft_review")
	collector.Resumed("report", "revise")
	collector.StaleResume()
	collector.EditLoop("report", "revise", false)
	collector.EditLoop("report", "revise", true)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.runsStarted.WithLabelValues("report")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.runsFinished.WithLabelValues("report", "awaiting_approval")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.stageErrors.WithLabelValues("report", "draft")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.stageRetries.WithLabelValues("report", "draft")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.suspensions.WithLabelValues("report", "draft_review")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.resumes.WithLabelValues("report", "revise")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.staleResumes))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.editLoops.WithLabelValues("report", "revise", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.editLoops.WithLabelValues("report", "revise", "false")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.stageDuration))
}

func TestCollector_Router(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRoute("report")
	collector.RecordRoute("chat")
	collector.RecordRoute("chat")
	collector.RecordClarification()

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.routedRequests.WithLabelValues("chat")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.clarifications))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLLMRequest("openai", "gpt-4o-mini", "success", 500*time.Millisecond, 100, 50)
	collector.RecordLLMRequest("openai", "gpt-4o-mini", "error", time.Second, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4o-mini", "success")))
	assert.Equal(t, float64(100), testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "prompt")))
	assert.Equal(t, float64(50), testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "completion")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("router")
	collector.RecordCacheMiss("router")
	collector.RecordCacheMiss("router")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheHits.WithLabelValues("router")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("router")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("primary", 10, 5)
	collector.RecordDBConnections("primary", 7, 3)

	assert.Equal(t, float64(7), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("primary")))
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("primary")))
}

func TestCollector_RegisterDroppedEvents(t *testing.T) {
	ns := nextTestNamespace()
	collector := NewCollector(ns, zap.NewNop())

	var dropped atomic.Int64
	collector.RegisterDroppedEvents(dropped.Load)
	dropped.Add(3)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == ns+"_stream_events_dropped_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(3), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "dropped events counter registered")
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond, 2)
			collector.RunStarted("chat")
			collector.RecordCacheHit("router")
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.runsStarted.WithLabelValues("chat")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.cacheHits.WithLabelValues("router")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 409: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}
