package report

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/reportflow/agent/hitl"
	"github.com/BaSui01/reportflow/agent/records"
	"github.com/BaSui01/reportflow/rag"
	"github.com/BaSui01/reportflow/workflow"
)

// 工作流名
const (
	GraphName     = "report"
	ChatGraphName = "chat"
)

// 请求字段
const (
	KeyQuery               = "query"
	KeyRequirePlanApproval = "require_plan_approval"
)

// stage 输出字段
const (
	KeyTopic      = "topic"
	KeyPlan       = "plan"
	KeyEvidence   = "evidence"
	KeyDraft      = "draft"
	KeySaved      = "saved"
	KeyRecordID   = "record_id"
	KeyCommitNote = "commit_note"
	KeyReply      = "reply"
)

// RecordKind commit 写入的记录类型
const RecordKind = "report"

// Plan 报告大纲
type Plan struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
	Queries  []string `json:"queries"`
}

// Draft 起草出的报告
type Draft struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Sources   []string `json:"sources,omitempty"`
	Iteration int      `json:"iteration"`
	Degraded  bool     `json:"degraded,omitempty"` // 起草时证据不完整
}

// Config report 工作流配置
type Config struct {
	// RequirePlanApproval 为 true 时每个 run 都在 plan_approval 挂起；
	// 否则只有请求里带 require_plan_approval=true 的 run 挂起。
	RequirePlanApproval bool `yaml:"require_plan_approval" env:"REQUIRE_PLAN_APPROVAL"`
	MaxQueries          int  `yaml:"max_queries" env:"MAX_QUERIES"`
	// MaxEvidence 交给生成服务的证据条数上限
	MaxEvidence int `yaml:"max_evidence" env:"MAX_EVIDENCE"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{MaxQueries: 4, MaxEvidence: 8}
}

// Deps 外部协作者
type Deps struct {
	Generator Generator
	Retriever rag.Retriever
	Records   records.Store
	Logger    *zap.Logger
}

func (d Deps) validate() error {
	if d.Generator == nil {
		return errors.New("report: generator is required")
	}
	if d.Retriever == nil {
		return errors.New("report: retriever is required")
	}
	if d.Records == nil {
		return errors.New("report: records store is required")
	}
	return nil
}

// NewGraph 构建 report 工作流
func NewGraph(deps Deps, cfg Config) (*workflow.Graph, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = DefaultConfig().MaxQueries
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = DefaultConfig().MaxEvidence
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &stages{
		generator: deps.Generator,
		retriever: deps.Retriever,
		records:   deps.Records,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "report_workflow")),
	}

	return workflow.NewGraph(GraphName).
		Stage("extract", s.extract, KeyTopic).
		Stage("plan", s.plan, KeyPlan).
		Gate("plan_approval", workflow.Gate{
			Type:    hitl.GatePlanApproval,
			When:    s.needsPlanApproval,
			Payload: planPayload,
			Actions: map[hitl.Action]workflow.Transition{
				hitl.ActionApprove:     workflow.Continue(""),
				hitl.ActionReject:      workflow.Terminate(workflow.OutcomeRejected),
				hitl.ActionEditWording: workflow.NarrowRetry(),
				hitl.ActionEditContent: workflow.WideRetry(),
			},
			LoopStart: "plan",
		}).
		Stage("gather", s.gather, KeyEvidence).
		Stage("compose", s.compose, KeyDraft).
		Gate("record_approval", workflow.Gate{
			Type:    hitl.GateRecordApproval,
			Payload: recordPayload,
			Actions: map[hitl.Action]workflow.Transition{
				hitl.ActionApprove:     workflow.Continue(workflow.OutcomeApproved),
				hitl.ActionReject:      workflow.Terminate(workflow.OutcomeRejected),
				hitl.ActionEditWording: workflow.NarrowRetry(),
				hitl.ActionEditContent: workflow.WideRetry(),
			},
			LoopStart: "gather",
		}).
		Terminal("commit", s.commit, KeySaved, KeyRecordID, KeyCommitNote).
		Result(KeyTopic, KeyPlan, KeyDraft, KeySaved, KeyRecordID, KeyCommitNote).
		Build()
}
