package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/reportflow/agent/checkpoint"
	"github.com/BaSui01/reportflow/agent/hitl"
)

// RedisStore is a Redis-based implementation of Backend.
// Suitable for distributed production deployments.
// Checkpoints are plain string keys written with WATCH/MULTI for PutIf;
// approval requests are hashes carrying the request id next to the payload
// so the Take script can compare atomically.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Backend = (*RedisStore)(nil)

// takeScript deletes the approval hash only when its id matches.
var takeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisStore creates a new Redis-based backend on top of an existing client.
// The store does not own the client unless Close is called.
func NewRedisStore(client redis.UniversalClient, config StoreConfig) *RedisStore {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultStoreConfig().KeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: prefix}
}

// Checkpoints implements Backend
func (s *RedisStore) Checkpoints() checkpoint.Store { return redisCheckpoints{s} }

// Approvals implements Backend
func (s *RedisStore) Approvals() hitl.ApprovalStore { return redisApprovals{s} }

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// checkpointKey returns the Redis key for a run's checkpoint
func (s *RedisStore) checkpointKey(runID string) string {
	return s.keyPrefix + "checkpoint:" + runID
}

// approvalKey returns the Redis key for a run's approval request
func (s *RedisStore) approvalKey(runID string) string {
	return s.keyPrefix + "approval:" + runID
}

// scan collects all keys matching prefix*
func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

type redisCheckpoints struct{ s *RedisStore }

func (r redisCheckpoints) Put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	if err := r.s.client.Set(ctx, r.s.checkpointKey(cp.RunID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// PutIf 用 WATCH/MULTI 做乐观比较写入，期间有其他写入时 EXEC 失败即视为冲突
func (r redisCheckpoints) PutIf(ctx context.Context, cp *checkpoint.Checkpoint, expected int64) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	key := r.s.checkpointKey(cp.RunID)
	err = r.s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current *int64
		old, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: concurrent write to %s", checkpoint.ErrVersionConflict, cp.RunID)
	case errors.Is(err, checkpoint.ErrVersionConflict):
		return err
	}
	return fmt.Errorf("failed to save checkpoint: %w", err)
}

func (r redisCheckpoints) Get(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	data, err := r.s.client.Get(ctx, r.s.checkpointKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

func (r redisCheckpoints) Delete(ctx context.Context, runID string) error {
	if err := r.s.client.Del(ctx, r.s.checkpointKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (r redisCheckpoints) List(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	keys, err := r.s.scan(ctx, r.s.keyPrefix+"checkpoint:")
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Checkpoint, 0, len(keys))
	for _, key := range keys {
		cp, err := r.Get(ctx, strings.TrimPrefix(key, r.s.keyPrefix+"checkpoint:"))
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

type redisApprovals struct{ s *RedisStore }

func (r redisApprovals) Save(ctx context.Context, req *hitl.ApprovalRequest) error {
	data, err := encodeApproval(req)
	if err != nil {
		return err
	}
	key := r.s.approvalKey(req.RunID)
	// 覆盖：先删旧 hash 再写，保证字段不残留
	_, err = r.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "id", req.ID, "data", data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}
	return nil
}

func (r redisApprovals) Get(ctx context.Context, runID string) (*hitl.ApprovalRequest, error) {
	data, err := r.s.client.HGet(ctx, r.s.approvalKey(runID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, hitl.ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return decodeApproval(data)
}

func (r redisApprovals) Take(ctx context.Context, runID, approvalID string) error {
	n, err := takeScript.Run(ctx, r.s.client, []string{r.s.approvalKey(runID)}, approvalID).Int()
	if err != nil {
		return fmt.Errorf("failed to take approval request: %w", err)
	}
	if n == 0 {
		return hitl.ErrApprovalNotFound
	}
	return nil
}

func (r redisApprovals) Delete(ctx context.Context, runID string) error {
	if err := r.s.client.Del(ctx, r.s.approvalKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete approval request: %w", err)
	}
	return nil
}

func (r redisApprovals) List(ctx context.Context) ([]*hitl.ApprovalRequest, error) {
	keys, err := r.s.scan(ctx, r.s.keyPrefix+"approval:")
	if err != nil {
		return nil, err
	}
	out := make([]*hitl.ApprovalRequest, 0, len(keys))
	for _, key := range keys {
		req, err := r.Get(ctx, strings.TrimPrefix(key, r.s.keyPrefix+"approval:"))
		if errors.Is(err, hitl.ErrApprovalNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sortApprovals(out)
	return out, nil
}
