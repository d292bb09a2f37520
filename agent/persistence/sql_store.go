package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// CheckpointRecord 检查点表的 GORM 模型
type CheckpointRecord struct {
	RunID     string    `gorm:"primaryKey;size:128"`
	Graph     string    `gorm:"size:64;index"`
	Terminal  bool      `gorm:"index"`
	Version   int64     `gorm:"not null;default:0"`
	Data      string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CheckpointRecord) TableName() string { return "workflow_checkpoints" }

// ApprovalRecord 待处理审批请求表的 GORM 模型，每个 run 至多一行
type ApprovalRecord struct {
	RunID      string    `gorm:"primaryKey;size:128"`
	ApprovalID string    `gorm:"size:64;not null"`
	GateType   string    `gorm:"size:32"`
	Data       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName 指定表名
func (ApprovalRecord) TableName() string { return "workflow_approvals" }

// SQLStore 基于 GORM 的 Backend 实现，支持 postgres / mysql / sqlite。
// 连接由 internal/database.PoolManager 持有，Close 不会关闭它。
type SQLStore struct {
	db *gorm.DB
}

var _ Backend = (*SQLStore)(nil)

// NewSQLStore 创建 SQL 存储。config.AutoMigrate 为 true 时自动建表，
// 生产环境应使用 internal/migration 的 SQL 迁移。
func NewSQLStore(db *gorm.DB, config StoreConfig) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config.AutoMigrate {
		if err := db.AutoMigrate(&CheckpointRecord{}, &ApprovalRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate workflow tables: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Checkpoints implements Backend
func (s *SQLStore) Checkpoints() checkpoint.Store { return sqlCheckpoints{s} }

// Approvals implements Backend
func (s *SQLStore) Approvals() hitl.ApprovalStore { return sqlApprovals{s} }

// Close is a no-op; the pool owns the connection.
func (s *SQLStore) Close() error { return nil }

// Ping 检查数据库连接
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type sqlCheckpoints struct{ s *SQLStore }

func (q sqlCheckpoints) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	rec := CheckpointRecord{
		RunID:    cp.RunID,
		Graph:    cp.Graph,
		Terminal: cp.Terminal,
		Version:  cp.Version,
		Data:     string(data),
	}
	err = q.s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// PutIf expected 为 0 时 INSERT ... ON CONFLICT DO NOTHING，
// 否则 UPDATE ... WHERE version = expected，RowsAffected 为 0 即冲突
func (q sqlCheckpoints) PutIf(ctx context.Context, cp *checkpoint.Checkpoint, expected int64) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	db := q.s.db.WithContext(ctx)
	var res *gorm.DB
	if expected == 0 {
		res = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).Create(&CheckpointRecord{
			RunID:    cp.RunID,
			Graph:    cp.Graph,
			Terminal: cp.Terminal,
			Version:  cp.Version,
			Data:     string(data),
		})
	} else {
		res = db.Model(&CheckpointRecord{}).
			Where("run_id = ? AND version = ?", cp.RunID, expected).
			Updates(map[string]any{
				"graph":      cp.Graph,
				"terminal":   cp.Terminal,
				"version":    cp.Version,
				"data":       string(data),
				"updated_at": time.Now(),
			})
	}
	if res.Error != nil {
		return fmt.Errorf("failed to save checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s is not at version %d", checkpoint.ErrVersionConflict, cp.RunID, expected)
	}
	return nil
}

func (q sqlCheckpoints) Get(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	var rec CheckpointRecord
	err := q.s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return decodeCheckpoint([]byte(rec.Data))
}

func (q sqlCheckpoints) Delete(ctx context.Context, runID string) error {
	if err := q.s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&CheckpointRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (q sqlCheckpoints) List(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	var recs []CheckpointRecord
	if err := q.s.db.WithContext(ctx).Order("run_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]*checkpoint.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := decodeCheckpoint([]byte(rec.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

type sqlApprovals struct{ s *SQLStore }

func (q sqlApprovals) Save(ctx context.Context, req *hitl.ApprovalRequest) error {
	data, err := encodeApproval(req)
	if err != nil {
		return err
	}
	rec := ApprovalRecord{
		RunID:      req.RunID,
		ApprovalID: req.ID,
		GateType:   string(req.GateType),
		Data:       string(data),
		CreatedAt:  req.CreatedAt,
	}
	err = q.s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}
	return nil
}

func (q sqlApprovals) Get(ctx context.Context, runID string) (*hitl.ApprovalRequest, error) {
	var rec ApprovalRecord
	err := q.s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, hitl.ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return decodeApproval([]byte(rec.Data))
}

// Take 用带 approval_id 条件的 DELETE 实现比较删除，RowsAffected 决定胜者
func (q sqlApprovals) Take(ctx context.Context, runID, approvalID string) error {
	res := q.s.db.WithContext(ctx).
		Where("run_id = ? AND approval_id = ?", runID, approvalID).
		Delete(&ApprovalRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to take approval request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return hitl.ErrApprovalNotFound
	}
	return nil
}

func (q sqlApprovals) Delete(ctx context.Context, runID string) error {
	if err := q.s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&ApprovalRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete approval request: %w", err)
	}
	return nil
}

func (q sqlApprovals) List(ctx context.Context) ([]*hitl.ApprovalRequest, error) {
	var recs []ApprovalRecord
	if err := q.s.db.WithContext(ctx).Order("created_at, run_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	out := make([]*hitl.ApprovalRequest, 0, len(recs))
	for _, rec := range recs {
		req, err := decodeApproval([]byte(rec.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
