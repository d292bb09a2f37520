package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/agent/records"
	"github.com/BaSui01/reportflow/agent/streaming"
	"github.com/BaSui01/reportflow/rag"
	"github.com/BaSui01/reportflow/workflow"
)

// stage 自己发出的进度事件
const (
	EventEvidence      streaming.EventType = "evidence"
	EventDraftReady    streaming.EventType = "draft_ready"
	EventRecordCreated streaming.EventType = "record_created"
)

type stages struct {
	generator Generator
	retriever rag.Retriever
	records   records.Store
	cfg       Config
	logger    *zap.Logger
}

func (s *stages) extract(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
	var query string
	if err := in.Decode(KeyQuery, &query); err != nil {
		return nil, workflow.Fatal("request has no query", err)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, workflow.Fatal("request has an empty query", nil)
	}

	out, err := s.generator.Generate(ctx, extractPrompt, query)
	if err != nil {
		return nil, fmt.Errorf("extract topic: %w", err)
	}
	topic := firstLine(out)
	if topic == "" {
		topic = query
	}
	return workflow.Delta{KeyTopic: topic}, nil
}

func (s *stages) plan(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
	var topic string
	if err := in.Decode(KeyTopic, &topic); err != nil {
		return nil, err
	}
	hints := workflow.QueryHints(in.State)

	out, err := s.generator.Generate(ctx, planPrompt(topic, in.Feedback, hints), "")
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	p := parsePlan(out, topic, s.cfg.MaxQueries)
	applyPlanEdits(&p, workflow.UserEdits(in.State))
	return workflow.Delta{KeyPlan: p}, nil
}

// applyPlanEdits 人工在审批时直接改过的标题/章节优先于模型输出
func applyPlanEdits(p *Plan, edits map[string]any) {
	if title, ok := edits["title"].(string); ok && strings.TrimSpace(title) != "" {
		p.Title = title
	}
	if raw, ok := edits["sections"].([]any); ok {
		sections := make([]string, 0, len(raw))
		for _, v := range raw {
			if sec, ok := v.(string); ok && strings.TrimSpace(sec) != "" {
				sections = append(sections, sec)
			}
		}
		if len(sections) > 0 {
			p.Sections = sections
		}
	}
}

func (s *stages) needsPlanApproval(st workflow.State) bool {
	if s.cfg.RequirePlanApproval {
		return true
	}
	var required bool
	ok, err := st.Get(KeyRequirePlanApproval, &required)
	return ok && err == nil && required
}

func (s *stages) gather(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
	var (
		topic string
		p     Plan
	)
	if err := in.Decode(KeyTopic, &topic); err != nil {
		return nil, err
	}
	if err := in.Decode(KeyPlan, &p); err != nil {
		return nil, err
	}
	queries := rag.NormalizeQueries(append(append([]string(nil), p.Queries...), workflow.QueryHints(in.State)...))

	set, err := s.retriever.Retrieve(ctx, rag.RunContext{RunID: in.RunID, Topic: topic}, queries)
	if err != nil {
		// stage 超时或被取消时交给执行器重试/停止，其余检索故障降级为空证据
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("evidence retrieval failed, continuing without evidence",
			zap.String("run_id", in.RunID),
			zap.Strings("queries", queries),
			zap.Error(err))
		set = rag.EvidenceSet{Queries: queries, Degraded: true}
	}
	in.Emit(EventEvidence, map[string]any{
		"queries":  len(queries),
		"items":    len(set.Items),
		"degraded": set.Degraded,
	})
	return workflow.Delta{KeyEvidence: set}, nil
}

func (s *stages) compose(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
	var (
		p        Plan
		evidence rag.EvidenceSet
	)
	if err := in.Decode(KeyPlan, &p); err != nil {
		return nil, err
	}
	if err := in.Decode(KeyEvidence, &evidence); err != nil {
		return nil, err
	}
	items := evidence.Items
	if len(items) > s.cfg.MaxEvidence {
		items = items[:s.cfg.MaxEvidence]
	}

	body, err := s.generator.Generate(ctx, composePrompt(p, in.Feedback, workflow.QueryHints(in.State)), formatEvidence(items))
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("compose: generator returned an empty draft")
	}

	draft := Draft{
		Title:     p.Title,
		Body:      body,
		Sources:   rag.EvidenceSet{Items: items}.Sources(),
		Iteration: in.Iteration,
		Degraded:  evidence.Degraded || evidence.Empty(),
	}
	if title, ok := workflow.UserEdits(in.State)["title"].(string); ok && strings.TrimSpace(title) != "" {
		draft.Title = title
	}
	in.Emit(EventDraftReady, map[string]any{"title": draft.Title, "chars": len(draft.Body), "iteration": draft.Iteration})
	return workflow.Delta{KeyDraft: draft}, nil
}

// storedReport commit 写入记录服务的负载
type storedReport struct {
	Topic      string         `json:"topic"`
	Plan       Plan           `json:"plan"`
	Draft      Draft          `json:"draft"`
	UserEdits  map[string]any `json:"user_edits,omitempty"`
	ApprovedBy string         `json:"approved_by,omitempty"`
}

func (s *stages) commit(ctx context.Context, in *workflow.StageInput) (workflow.Delta, error) {
	outcome := workflow.OutcomeOf(in.State)
	if !outcome.Saveable() {
		return workflow.Delta{
			KeySaved:      false,
			KeyRecordID:   "",
			KeyCommitNote: "not saved: " + string(outcome),
		}, nil
	}

	var rep storedReport
	if err := in.Decode(KeyDraft, &rep.Draft); err != nil {
		return nil, err
	}
	_, _ = in.State.Get(KeyTopic, &rep.Topic)
	_, _ = in.State.Get(KeyPlan, &rep.Plan)
	if edits := workflow.UserEdits(in.State); len(edits) > 0 {
		rep.UserEdits = edits
	}
	if d, ok := workflow.LastDecision(in.State); ok {
		rep.ApprovedBy = d.UserID
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return nil, workflow.Fatal("encode report record", err)
	}

	id, err := s.createOnce(ctx, in.RunID, payload)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Warn("record creation failed, completing unsaved",
			zap.String("run_id", in.RunID),
			zap.Error(err))
		return workflow.Delta{
			KeySaved:      false,
			KeyRecordID:   "",
			KeyCommitNote: "record store unavailable: " + err.Error(),
		}, nil
	}
	in.Emit(EventRecordCreated, map[string]any{"record_id": id})
	return workflow.Delta{
		KeySaved:      true,
		KeyRecordID:   id,
		KeyCommitNote: "saved",
	}, nil
}

// createOnce commit 可能因检查点写失败被重跑；同一 run 已有相同内容的记录时直接复用
func (s *stages) createOnce(ctx context.Context, runID string, payload json.RawMessage) (string, error) {
	existing, err := s.records.ListByRun(ctx, runID)
	if err != nil {
		s.logger.Debug("list records failed", zap.String("run_id", runID), zap.Error(err))
	}
	for _, rec := range existing {
		if rec.Kind == RecordKind && bytes.Equal(rec.Payload, payload) {
			return rec.ID, nil
		}
	}
	return s.records.CreateRecord(ctx, runID, RecordKind, payload)
}

func planPayload(st workflow.State) (any, error) {
	var (
		topic string
		p     Plan
	)
	if _, err := st.Get(KeyTopic, &topic); err != nil {
		return nil, err
	}
	if _, err := st.Get(KeyPlan, &p); err != nil {
		return nil, err
	}
	return map[string]any{"topic": topic, "plan": p}, nil
}

func recordPayload(st workflow.State) (any, error) {
	var (
		d        Draft
		evidence rag.EvidenceSet
	)
	if _, err := st.Get(KeyDraft, &d); err != nil {
		return nil, err
	}
	if _, err := st.Get(KeyEvidence, &evidence); err != nil {
		return nil, err
	}
	return map[string]any{
		"draft":             d,
		"evidence_count":    len(evidence.Items),
		"evidence_degraded": evidence.Degraded,
	}, nil
}
