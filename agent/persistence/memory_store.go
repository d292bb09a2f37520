package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// MemoryStore is an in-memory implementation of Backend.
// Values are kept JSON-encoded so callers never share memory with the store.
// Suitable for development and testing.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte
	approvals   map[string][]byte
	closed      bool
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory backend
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string][]byte),
		approvals:   make(map[string][]byte),
	}
}

// Checkpoints implements Backend
func (s *MemoryStore) Checkpoints() checkpoint.Store { return memoryCheckpoints{s} }

// Approvals implements Backend
func (s *MemoryStore) Approvals() hitl.ApprovalStore { return memoryApprovals{s} }

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

type memoryCheckpoints struct{ s *MemoryStore }

func (m memoryCheckpoints) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	m.s.checkpoints[cp.RunID] = data
	return nil
}

func (m memoryCheckpoints) PutIf(ctx context.Context, cp *checkpoint.Checkpoint, expected int64) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	var current *int64
	if old, ok := m.s.checkpoints[cp.RunID]; ok {
		v, err := storedVersion(old)
		if err != nil {
			return err
		}
		current = &v
	}
	if err := checkpoint.CheckVersion(current, expected); err != nil {
		return err
	}
	m.s.checkpoints[cp.RunID] = data
	return nil
}

func (m memoryCheckpoints) Get(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if m.s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := m.s.checkpoints[runID]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return decodeCheckpoint(data)
}

func (m memoryCheckpoints) Delete(ctx context.Context, runID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	delete(m.s.checkpoints, runID)
	return nil
}

func (m memoryCheckpoints) List(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if m.s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*checkpoint.Checkpoint, 0, len(m.s.checkpoints))
	for _, data := range m.s.checkpoints {
		cp, err := decodeCheckpoint(data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

type memoryApprovals struct{ s *MemoryStore }

func (m memoryApprovals) Save(ctx context.Context, req *hitl.ApprovalRequest) error {
	data, err := encodeApproval(req)
	if err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	m.s.approvals[req.RunID] = data
	return nil
}

func (m memoryApprovals) Get(ctx context.Context, runID string) (*hitl.ApprovalRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if m.s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := m.s.approvals[runID]
	if !ok {
		return nil, hitl.ErrApprovalNotFound
	}
	return decodeApproval(data)
}

func (m memoryApprovals) Take(ctx context.Context, runID, approvalID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	data, ok := m.s.approvals[runID]
	if !ok {
		return hitl.ErrApprovalNotFound
	}
	req, err := decodeApproval(data)
	if err != nil {
		return err
	}
	if req.ID != approvalID {
		return hitl.ErrApprovalNotFound
	}
	delete(m.s.approvals, runID)
	return nil
}

func (m memoryApprovals) Delete(ctx context.Context, runID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.closed {
		return ErrStoreClosed
	}
	delete(m.s.approvals, runID)
	return nil
}

func (m memoryApprovals) List(ctx context.Context) ([]*hitl.ApprovalRequest, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if m.s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*hitl.ApprovalRequest, 0, len(m.s.approvals))
	for _, data := range m.s.approvals {
		req, err := decodeApproval(data)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sortApprovals(out)
	return out, nil
}

// =============================================================================
// shared helpers
// =============================================================================

func encodeCheckpoint(cp *checkpoint.Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, ErrInvalidInput
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func encodeApproval(req *hitl.ApprovalRequest) ([]byte, error) {
	if req == nil || req.ID == "" {
		return nil, ErrInvalidInput
	}
	if err := checkpoint.ValidateRunID(req.RunID); err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval request: %w", err)
	}
	return data, nil
}

// storedVersion 只解码版本号字段
func storedVersion(data []byte) (int64, error) {
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return head.Version, nil
}

func decodeCheckpoint(data []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.State == nil {
		cp.State = checkpoint.State{}
	}
	return &cp, nil
}

func decodeApproval(data []byte) (*hitl.ApprovalRequest, error) {
	var req hitl.ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval request: %w", err)
	}
	return &req, nil
}

func sortCheckpoints(cps []*checkpoint.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool { return cps[i].RunID < cps[j].RunID })
}

func sortApprovals(reqs []*hitl.ApprovalRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].RunID < reqs[j].RunID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
