package records

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrEmptyPayload 记录内容为空
	ErrEmptyPayload = errors.New("record payload is empty")
)

// Record 一份已提交的报告
type Record struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store 记录持久化服务
type Store interface {
	// CreateRecord 保存 payload 并返回新记录的 ID
	CreateRecord(ctx context.Context, runID, kind string, payload any) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	// ListByRun 按创建时间返回某个 run 提交的记录
	ListByRun(ctx context.Context, runID string) ([]*Record, error)
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, ErrEmptyPayload
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, ErrEmptyPayload
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, ErrEmptyPayload
	}
	return data, nil
}
