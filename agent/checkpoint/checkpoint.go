package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 哨兵错误
var (
	// ErrNotFound run 没有任何已持久化的检查点（全新 run）
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalidRunID run_id 为空或包含非法字符
	ErrInvalidRunID = errors.New("invalid run id")
	// ErrVersionConflict 条件写入时存储中的版本与期望版本不一致
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// State 是 run 的累积上下文。每个值都以规范 JSON 形式保存，
// 因此经过任意存储后端往返后仍然逐字节一致。
type State map[string]json.RawMessage

// Clone 返回深拷贝
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Has 判断字段是否存在
func (s State) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Get 将字段解码到 v。字段不存在时返回 false。
func (s State) Get(key string, v any) (bool, error) {
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode state field %q: %w", key, err)
	}
	return true, nil
}

// Set 将 v 编码后写入字段
func (s State) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state field %q: %w", key, err)
	}
	s[key] = raw
	return nil
}

// LoopMode 编辑循环的粒度
type LoopMode string

const (
	// LoopNarrow 只重跑 gate 之前的最后一个 stage
	LoopNarrow LoopMode = "narrow"
	// LoopWide 从 gate 的 loop start stage 开始重跑
	LoopWide LoopMode = "wide"
)

// LoopCursor 记录编辑循环内的进度。
// 循环期间 StageIndex 停留在 gate 上，重跑进度由 Next 表示，
// 所以 StageIndex 永远不会回退。
type LoopCursor struct {
	Gate     int      `json:"gate"`
	Next     int      `json:"next"`
	Mode     LoopMode `json:"mode"`
	Feedback string   `json:"feedback,omitempty"`
}

// Checkpoint run 的最新持久化快照。每个 run 至多一个。
type Checkpoint struct {
	RunID          string      `json:"run_id"`
	Graph          string      `json:"graph"`
	StageIndex     int         `json:"stage_index"`
	State          State       `json:"state"`
	EditIterations int         `json:"edit_iterations"`
	Loop           *LoopCursor `json:"loop,omitempty"`
	Terminal       bool        `json:"terminal"`
	Outcome        string      `json:"outcome,omitempty"`
	Version        int64       `json:"version"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Clone 返回深拷贝
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	if c.Loop != nil {
		loop := *c.Loop
		out.Loop = &loop
	}
	return &out
}

// Validate 检查写入前的必要字段
func (c *Checkpoint) Validate() error {
	if err := ValidateRunID(c.RunID); err != nil {
		return err
	}
	if c.Graph == "" {
		return fmt.Errorf("checkpoint %s: graph is required", c.RunID)
	}
	if c.StageIndex < 0 {
		return fmt.Errorf("checkpoint %s: negative stage index", c.RunID)
	}
	return nil
}

// CheckVersion 供各存储实现 PutIf：current 为 nil 表示不存在
func CheckVersion(current *int64, expected int64) error {
	switch {
	case current == nil && expected == 0:
		return nil
	case current == nil:
		return fmt.Errorf("%w: checkpoint missing, expected version %d", ErrVersionConflict, expected)
	case *current != expected:
		return fmt.Errorf("%w: stored version %d, expected %d", ErrVersionConflict, *current, expected)
	}
	return nil
}

// ValidateRunID run_id 会被用作文件名和 Redis key 的一部分
func ValidateRunID(runID string) error {
	if runID == "" || len(runID) > 128 {
		return ErrInvalidRunID
	}
	for _, r := range runID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
		}
	}
	if runID == "." || runID == ".." {
		return ErrInvalidRunID
	}
	return nil
}

// Store 检查点存储接口。Put 为整体覆盖（last-writer-wins），
// PutIf 是按版本号比较后写入，执行器的所有写入都走 PutIf。
type Store interface {
	// Put 保存 run 的最新检查点
	Put(ctx context.Context, cp *Checkpoint) error

	// PutIf 仅当已存储的版本等于 expected 时写入；expected 为 0 表示 run 尚无检查点。
	// 不满足时返回 ErrVersionConflict，存储内容不变。
	PutIf(ctx context.Context, cp *Checkpoint, expected int64) error

	// Get 加载检查点，不存在时返回 ErrNotFound
	Get(ctx context.Context, runID string) (*Checkpoint, error)

	// Delete 删除检查点，不存在时不报错
	Delete(ctx context.Context, runID string) error

	// List 列出全部检查点（用于启动时恢复）
	List(ctx context.Context) ([]*Checkpoint, error)
}
