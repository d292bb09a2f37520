package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/persistence"
	"github.com/BaSui01/reportflow/agent/records"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/internal/retry"
	"github.com/BaSui01/reportflow/rag"
	"github.com/BaSui01/reportflow/workflow"
)

// =============================================================================
// 测试替身
// =============================================================================

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	planOut string
	err     error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt, contextText string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	switch {
	case prompt == extractPrompt:
		return "Q3 revenue\nextra line", nil
	case strings.HasPrefix(prompt, "Draft an outline"):
		if g.planOut != "" {
			return g.planOut, nil
		}
		return `Sure: {"title":"Q3 Revenue Review","sections":["Summary","Drivers"],"queries":["q3 revenue","Q3 REVENUE","regional sales"]}`, nil
	case strings.HasPrefix(prompt, "Write the report"):
		body := "Revenue grew [1]."
		if i := strings.Index(prompt, "feedback: "); i >= 0 {
			body += " (" + strings.TrimSpace(prompt[i+len("feedback: "):]) + ")"
		}
		return body, nil
	}
	return "hello there", nil
}

func (g *scriptedGenerator) promptsWithPrefix(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, p := range g.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type recordingRetriever struct {
	mu      sync.Mutex
	queries [][]string
	err     error
}

func (r *recordingRetriever) Retrieve(ctx context.Context, rc rag.RunContext, queries []string) (rag.EvidenceSet, error) {
	r.mu.Lock()
	r.queries = append(r.queries, append([]string(nil), queries...))
	r.mu.Unlock()
	if r.err != nil {
		return rag.EvidenceSet{}, r.err
	}
	items := make([]rag.Evidence, 0, len(queries))
	for i, q := range queries {
		items = append(items, rag.Evidence{
			DocumentID: "doc#" + string(rune('0'+i)),
			Source:     "finance.md",
			Snippet:    rc.Topic + ": " + q,
			Score:      0.9,
			Query:      q,
		})
	}
	return rag.EvidenceSet{Queries: queries, Items: items}, nil
}

func (r *recordingRetriever) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.queries...)
}

type failingRecords struct {
	records.Store
}

func (failingRecords) CreateRecord(ctx context.Context, runID, kind string, payload any) (string, error) {
	return "", errors.New("connection refused")
}

// =============================================================================
// harness
// =============================================================================

type reportHarness struct {
	exec      *workflow.Executor
	gen       *scriptedGenerator
	retriever *recordingRetriever
	records   *records.MemoryStore
}

func newReportHarness(t *testing.T, cfg Config, store records.Store) *reportHarness {
	t.Helper()
	h := &reportHarness{
		gen:       &scriptedGenerator{},
		retriever: &recordingRetriever{},
		records:   records.NewMemoryStore(),
	}
	if store == nil {
		store = h.records
	}
	g, err := NewGraph(Deps{Generator: h.gen, Retriever: h.retriever, Records: store, Logger: zap.NewNop()}, cfg)
	require.NoError(t, err)
	chat, err := NewChatGraph(h.gen)
	require.NoError(t, err)

	backend := persistence.NewMemoryStore()
	bus := streaming.NewBus(64, zap.NewNop())
	ctrl := hitl.NewController(backend.Checkpoints(), backend.Approvals(), bus, zap.NewNop())
	execCfg := workflow.DefaultConfig()
	execCfg.Retry = retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	h.exec = workflow.NewExecutor(execCfg, backend.Checkpoints(), ctrl, bus, zap.NewNop())
	h.exec.Register(g, chat)
	return h
}

func (h *reportHarness) start(t *testing.T, initial map[string]any) *workflow.Result {
	t.Helper()
	res, err := h.exec.Start(context.Background(), "run-1", GraphName, initial)
	require.NoError(t, err)
	return res
}

func (h *reportHarness) resume(t *testing.T, action hitl.Action, feedback string, edits map[string]any) *workflow.Result {
	t.Helper()
	res, err := h.exec.Resume(context.Background(), hitl.ResumeDecision{
		RunID: "run-1", Action: action, Feedback: feedback, EditedFields: edits, UserID: "alice",
	})
	require.NoError(t, err)
	return res
}

func decodeOutput(t *testing.T, res *workflow.Result, key string, v any) {
	t.Helper()
	raw, ok := res.Output[key]
	require.True(t, ok, "output %q missing", key)
	require.NoError(t, json.Unmarshal(raw, v))
}

// =============================================================================
// 场景
// =============================================================================

func TestReport_ApproveAndSave(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)

	res := h.start(t, map[string]any{KeyQuery: "how did revenue do in Q3?"})
	require.Equal(t, workflow.StatusSuspended, res.Status)
	require.NotNil(t, res.Approval)
	assert.Equal(t, hitl.GateRecordApproval, res.Approval.GateType, "plan approval is skipped by default")

	var payload struct {
		Draft         Draft `json:"draft"`
		EvidenceCount int   `json:"evidence_count"`
	}
	require.NoError(t, json.Unmarshal(res.Approval.Payload, &payload))
	assert.Equal(t, "Q3 Revenue Review", payload.Draft.Title)
	assert.Equal(t, 2, payload.EvidenceCount, "duplicate queries are merged")

	res = h.resume(t, hitl.ActionApprove, "", nil)
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, workflow.OutcomeApproved, res.Outcome)
	assert.True(t, res.Saved())

	var recordID, topic string
	decodeOutput(t, res, KeyRecordID, &recordID)
	decodeOutput(t, res, KeyTopic, &topic)
	assert.Equal(t, "Q3 revenue", topic)

	rec, err := h.records.Get(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, RecordKind, rec.Kind)
	var stored storedReport
	require.NoError(t, json.Unmarshal(rec.Payload, &stored))
	assert.Equal(t, "alice", stored.ApprovedBy)
	assert.Equal(t, "Revenue grew [1].", stored.Draft.Body)
	assert.Equal(t, []string{"finance.md"}, stored.Draft.Sources)
}

func TestReport_PlanApprovalNarrowRetry(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)

	res := h.start(t, map[string]any{KeyQuery: "q3 revenue", KeyRequirePlanApproval: true})
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Equal(t, hitl.GatePlanApproval, res.Approval.GateType)

	res = h.resume(t, hitl.ActionEditWording, "only two sections", map[string]any{"title": "Revenue, Q3"})
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Equal(t, hitl.GatePlanApproval, res.Approval.GateType)
	assert.Equal(t, 1, res.EditIterations)

	plans := h.gen.promptsWithPrefix("Draft an outline")
	require.Len(t, plans, 2)
	assert.Contains(t, plans[1], "only two sections")
	assert.Empty(t, h.retriever.calls(), "evidence is not gathered before the plan is approved")

	var payload struct {
		Plan Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(res.Approval.Payload, &payload))
	assert.Equal(t, "Revenue, Q3", payload.Plan.Title)

	res = h.resume(t, hitl.ActionApprove, "", nil)
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Equal(t, hitl.GateRecordApproval, res.Approval.GateType)
	assert.Len(t, h.retriever.calls(), 1)
}

func TestReport_RecordWideRetryAddsQueryHints(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	h.start(t, map[string]any{KeyQuery: "q3 revenue"})

	res := h.resume(t, hitl.ActionEditContent, "churn by region", nil)
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Equal(t, hitl.GateRecordApproval, res.Approval.GateType)

	calls := h.retriever.calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0], "churn by region")
	assert.Contains(t, calls[1], "churn by region")
	assert.Len(t, h.gen.promptsWithPrefix("Draft an outline"), 1, "plan is outside the wide loop")
	composes := h.gen.promptsWithPrefix("Write the report")
	require.Len(t, composes, 2)
	assert.Contains(t, composes[1], "churn by region")
}

func TestReport_RecordNarrowRetryKeepsEvidence(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	first := h.start(t, map[string]any{KeyQuery: "q3 revenue"})

	res := h.resume(t, hitl.ActionEditWording, "shorter", nil)
	require.Equal(t, workflow.StatusSuspended, res.Status)
	assert.Len(t, h.retriever.calls(), 1)

	var before, after struct {
		Draft Draft `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(first.Approval.Payload, &before))
	require.NoError(t, json.Unmarshal(res.Approval.Payload, &after))
	assert.Equal(t, before.Draft.Sources, after.Draft.Sources)
	assert.Contains(t, after.Draft.Body, "shorter")
}

func TestReport_RejectDoesNotSave(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	h.start(t, map[string]any{KeyQuery: "q3 revenue"})

	res := h.resume(t, hitl.ActionReject, "", nil)
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, workflow.OutcomeRejected, res.Outcome)
	assert.False(t, res.Saved())
	assert.Equal(t, 0, h.records.Len())

	var note string
	decodeOutput(t, res, KeyCommitNote, &note)
	assert.Equal(t, "not saved: rejected", note)
}

func TestReport_RetrievalFailureDegrades(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	h.retriever.err = errors.New("vector store down")

	res := h.start(t, map[string]any{KeyQuery: "q3 revenue"})
	require.Equal(t, workflow.StatusSuspended, res.Status)

	var payload struct {
		Draft            Draft `json:"draft"`
		EvidenceCount    int   `json:"evidence_count"`
		EvidenceDegraded bool  `json:"evidence_degraded"`
	}
	require.NoError(t, json.Unmarshal(res.Approval.Payload, &payload))
	assert.Zero(t, payload.EvidenceCount)
	assert.True(t, payload.EvidenceDegraded)
	assert.True(t, payload.Draft.Degraded)
}

func TestReport_RecordStoreFailureCompletesUnsaved(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), failingRecords{Store: records.NewMemoryStore()})
	h.start(t, map[string]any{KeyQuery: "q3 revenue"})

	res := h.resume(t, hitl.ActionApprove, "", nil)
	require.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, workflow.OutcomeApproved, res.Outcome)
	assert.False(t, res.Saved())

	var note string
	decodeOutput(t, res, KeyCommitNote, &note)
	assert.Contains(t, note, "connection refused")
	var draft Draft
	decodeOutput(t, res, KeyDraft, &draft)
	assert.NotEmpty(t, draft.Body, "the artifact is returned even when not saved")
}

func TestReport_EmptyQueryAborts(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	res := h.start(t, map[string]any{KeyQuery: "   "})
	assert.Equal(t, workflow.StatusAborted, res.Status)
	assert.Empty(t, h.gen.promptsWithPrefix(extractPrompt))
}

func TestReport_GeneratorFailureFails(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	h.gen.err = errors.New("llm timeout")

	res := h.start(t, map[string]any{KeyQuery: "q3 revenue"})
	assert.Equal(t, workflow.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.True(t, res.Error.Retryable)
}

func TestNewGraph_RequiresDeps(t *testing.T) {
	_, err := NewGraph(Deps{}, DefaultConfig())
	assert.Error(t, err)
	_, err = NewGraph(Deps{Generator: &scriptedGenerator{}}, DefaultConfig())
	assert.Error(t, err)
	_, err = NewChatGraph(nil)
	assert.Error(t, err)
}

func TestCommit_ReusesIdenticalRecord(t *testing.T) {
	store := records.NewMemoryStore()
	s := &stages{records: store, logger: zap.NewNop()}
	payload := json.RawMessage(`{"topic":"x"}`)

	id1, err := s.createOnce(context.Background(), "run-1", payload)
	require.NoError(t, err)
	id2, err := s.createOnce(context.Background(), "run-1", payload)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.Len())

	id3, err := s.createOnce(context.Background(), "run-1", json.RawMessage(`{"topic":"y"}`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestChatGraph(t *testing.T) {
	h := newReportHarness(t, DefaultConfig(), nil)
	res, err := h.exec.Start(context.Background(), "chat-1", ChatGraphName, map[string]any{KeyQuery: "hi!"})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, res.Status)

	var reply string
	decodeOutput(t, res, KeyReply, &reply)
	assert.Equal(t, "hello there", reply)
	assert.False(t, res.Saved())
}

func TestParsePlan(t *testing.T) {
	p := parsePlan("no json here", "churn", 3)
	assert.Equal(t, "churn", p.Title)
	assert.Equal(t, []string{"churn"}, p.Queries)
	assert.Len(t, p.Sections, 3)

	p = parsePlan(`{"title":"T","queries":["a","b","c","d"]}`, "churn", 2)
	assert.Equal(t, "T", p.Title)
	assert.Equal(t, []string{"a", "b"}, p.Queries)

	p = parsePlan(`{"title": 42}`, "churn", 2)
	assert.Equal(t, "churn", p.Title)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "topic", firstLine("  \"topic\"\nmore"))
	assert.Equal(t, "", firstLine("   "))
}

func TestExtractiveGenerator_RunsWholeReport(t *testing.T) {
	ctx := context.Background()
	store := rag.NewInMemoryVectorStore(nil)
	embedder := rag.NewHashEmbedder(128)
	indexer := rag.NewIndexer(rag.NewDocumentChunker(rag.DefaultChunkingConfig(), rag.WordTokenizer{}, nil), embedder, store, nil)
	_, err := indexer.Ingest(ctx, rag.IngestRequest{ID: "churn", Source: "churn.md", Text: "Customer churn rose in Q3 after the onboarding emails stopped."})
	require.NoError(t, err)

	recs := records.NewMemoryStore()
	g, err := NewGraph(Deps{
		Generator: ExtractiveGenerator{},
		Retriever: rag.NewMultiQueryRetriever(embedder, store, rag.DefaultRetrieverConfig(), nil),
		Records:   recs,
	}, DefaultConfig())
	require.NoError(t, err)

	backend := persistence.NewMemoryStore()
	ctrl := hitl.NewController(backend.Checkpoints(), backend.Approvals(), nil, nil)
	exec := workflow.NewExecutor(workflow.DefaultConfig(), backend.Checkpoints(), ctrl, nil, nil)
	exec.Register(g)

	res, err := exec.Start(ctx, "extractive-1", GraphName, map[string]any{KeyQuery: "customer churn"})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuspended, res.Status)

	res, err = exec.Resume(ctx, hitl.ResumeDecision{RunID: "extractive-1", Action: hitl.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.True(t, res.Saved())
	assert.Equal(t, 1, recs.Len())
}

func TestExtractiveGenerator(t *testing.T) {
	g := ExtractiveGenerator{}
	out, err := g.Generate(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.Equal(t, "prompt", out)

	out, err = g.Generate(context.Background(), "prompt", "[1] evidence")
	require.NoError(t, err)
	assert.Equal(t, "[1] evidence", out)

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(cctx, "prompt", "")
	assert.ErrorIs(t, err, context.Canceled)
}
