package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportRecord 数据库行
type ReportRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	RunID     string    `gorm:"size:128;index"`
	Kind      string    `gorm:"size:64"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName 表名
func (ReportRecord) TableName() string { return "report_records" }

// GormStore 基于 gorm 的记录存储
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore 创建记录存储。autoMigrate 为 true 时自动建表，
// 生产环境由 migrate 命令管理表结构。
func NewGormStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("records: nil database")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&ReportRecord{}); err != nil {
			return nil, fmt.Errorf("records: migrate: %w", err)
		}
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "record_store"))}, nil
}

func (s *GormStore) CreateRecord(ctx context.Context, runID, kind string, payload any) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	row := ReportRecord{
		ID:        uuid.NewString(),
		RunID:     runID,
		Kind:      kind,
		Payload:   string(data),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Warn("create record failed", zap.String("run_id", runID), zap.Error(err))
		return "", fmt.Errorf("records: create: %w", err)
	}
	s.logger.Debug("record created", zap.String("run_id", runID), zap.String("record_id", row.ID))
	return row.ID, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Record, error) {
	var row ReportRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get: %w", err)
	}
	return toRecord(row), nil
}

func (s *GormStore) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	var rows []ReportRecord
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("records: list: %w", err)
	}
	out := make([]*Record, len(rows))
	for i, row := range rows {
		out[i] = toRecord(row)
	}
	return out, nil
}

func toRecord(row ReportRecord) *Record {
	return &Record{
		ID:        row.ID,
		RunID:     row.RunID,
		Kind:      row.Kind,
		Payload:   []byte(row.Payload),
		CreatedAt: row.CreatedAt,
	}
}
