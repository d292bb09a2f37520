package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// FileStore是一个基于文件的 Backend 实现.
// 每个 run 一个 JSON 文件, 写入先落临时文件再重命名.
// 适合单节点生产部署.
type FileStore struct {
	checkpointDir string
	approvalDir   string
	mu            sync.RWMutex
	closed        bool
}

var _ Backend = (*FileStore)(nil)

// 新建文件存储
func NewFileStore(config StoreConfig) (*FileStore, error) {
	baseDir := config.BaseDir
	if baseDir == "" {
		baseDir = DefaultStoreConfig().BaseDir
	}
	s := &FileStore{
		checkpointDir: filepath.Join(baseDir, "checkpoints"),
		approvalDir:   filepath.Join(baseDir, "approvals"),
	}
	for _, dir := range []string{s.checkpointDir, s.approvalDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return s, nil
}

// Checkpoints implements Backend
func (s *FileStore) Checkpoints() checkpoint.Store { return fileCheckpoints{s} }

// Approvals implements Backend
func (s *FileStore) Approvals() hitl.ApprovalStore { return fileApprovals{s} }

// 关闭存储
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// 检查目录是否可用
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := os.Stat(s.checkpointDir); err != nil {
		return err
	}
	return nil
}

func (s *FileStore) path(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// 原子写: 写入临时文件后重命名
func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// 列出目录下所有 .json 文件（忽略临时文件）
func readAll(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue // 并发删除
		}
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

type fileCheckpoints struct{ s *FileStore }

func (f fileCheckpoints) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}
	return writeAtomic(f.s.path(f.s.checkpointDir, cp.RunID), data)
}

// PutIf 的比较与写入在同一把锁内完成，只对本进程内的写入者原子
func (f fileCheckpoints) PutIf(ctx context.Context, cp *checkpoint.Checkpoint, expected int64) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}
	path := f.s.path(f.s.checkpointDir, cp.RunID)
	var current *int64
	old, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	default:
		v, err := storedVersion(old)
		if err != nil {
			return err
		}
		current = &v
	}
	if err := checkpoint.CheckVersion(current, expected); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (f fileCheckpoints) Get(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return nil, err
	}
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	if f.s.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(f.s.path(f.s.checkpointDir, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCheckpoint(data)
}

func (f fileCheckpoints) Delete(ctx context.Context, runID string) error {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}
	return removeIfExists(f.s.path(f.s.checkpointDir, runID))
}

func (f fileCheckpoints) List(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	if f.s.closed {
		return nil, ErrStoreClosed
	}
	all, err := readAll(f.s.checkpointDir)
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Checkpoint, 0, len(all))
	for _, data := range all {
		cp, err := decodeCheckpoint(data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

type fileApprovals struct{ s *FileStore }

func (f fileApprovals) Save(ctx context.Context, req *hitl.ApprovalRequest) error {
	data, err := encodeApproval(req)
	if err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}
	return writeAtomic(f.s.path(f.s.approvalDir, req.RunID), data)
}

func (f fileApprovals) Get(ctx context.Context, runID string) (*hitl.ApprovalRequest, error) {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return nil, err
	}
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	if f.s.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(f.s.path(f.s.approvalDir, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, hitl.ErrApprovalNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeApproval(data)
}

// Take 把请求文件重命名到唯一的 claim 路径。rename 是原子的，
// 多个进程同时 Take 时只有一个能拿到文件。ID 不匹配时再放回去。
func (f fileApprovals) Take(ctx context.Context, runID, approvalID string) error {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}

	path := f.s.path(f.s.approvalDir, runID)
	claim := fmt.Sprintf("%s.%s.claim", path, uuid.NewString())
	if err := os.Rename(path, claim); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hitl.ErrApprovalNotFound
		}
		return err
	}
	data, err := os.ReadFile(claim)
	if err != nil {
		_ = os.Rename(claim, path)
		return err
	}
	req, err := decodeApproval(data)
	if err != nil || req.ID != approvalID {
		if rerr := os.Rename(claim, path); rerr != nil {
			return rerr
		}
		if err != nil {
			return err
		}
		return hitl.ErrApprovalNotFound
	}
	return os.Remove(claim)
}

func (f fileApprovals) Delete(ctx context.Context, runID string) error {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.closed {
		return ErrStoreClosed
	}
	return removeIfExists(f.s.path(f.s.approvalDir, runID))
}

func (f fileApprovals) List(ctx context.Context) ([]*hitl.ApprovalRequest, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	if f.s.closed {
		return nil, ErrStoreClosed
	}
	all, err := readAll(f.s.approvalDir)
	if err != nil {
		return nil, err
	}
	out := make([]*hitl.ApprovalRequest, 0, len(all))
	for _, data := range all {
		req, err := decodeApproval(data)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sortApprovals(out)
	return out, nil
}
