package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize 每个 run 的默认事件队列容量
const DefaultQueueSize = 64

// ErrAlreadySubscribed 同一 run 同时只允许一个订阅者
var ErrAlreadySubscribed = errors.New("run already has an active subscriber")

// DropHook 事件被丢弃时回调（用于指标）
type DropHook func(runID string, ev Event)

// Bus 按 run 划分的有界事件总线。
// Publish 永不阻塞：没有订阅者时静默丢弃，队列满时丢弃最新事件并记录日志。
type Bus struct {
	capacity int
	logger   *zap.Logger
	onDrop   DropHook
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*subscription

	dropped    atomic.Int64
	unobserved atomic.Int64
}

type subscription struct {
	ch      chan Event
	seq     uint64
	dropped int64
}

// BusOption 配置 Bus
type BusOption func(*Bus)

// WithDropHook 注册丢弃回调
func WithDropHook(hook DropHook) BusOption {
	return func(b *Bus) { b.onDrop = hook }
}

// NewBus 创建事件总线
func NewBus(capacity int, logger *zap.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	b := &Bus{
		capacity: capacity,
		logger:   logger.With(zap.String("component", "event_bus")),
		now:      time.Now,
		runs:     make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish 实现 Publisher
func (b *Bus) Publish(runID string, ev Event) {
	ev.RunID = runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.Lock()
	sub, ok := b.runs[runID]
	if !ok {
		b.mu.Unlock()
		b.unobserved.Add(1)
		return
	}
	sub.seq++
	ev.Seq = sub.seq
	select {
	case sub.ch <- ev:
		b.mu.Unlock()
		return
	default:
	}
	sub.dropped++
	b.mu.Unlock()

	b.dropped.Add(1)
	b.logger.Warn("event queue full, dropping event",
		zap.String("run_id", runID),
		zap.String("type", string(ev.Type)),
		zap.Uint64("seq", ev.Seq),
	)
	if b.onDrop != nil {
		b.onDrop(runID, ev)
	}
}

// Subscribe 订阅 run 的事件流。ctx 结束或调用 cancel 后 channel 被关闭。
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	if _, exists := b.runs[runID]; exists {
		b.mu.Unlock()
		return nil, nil, ErrAlreadySubscribed
	}
	sub := &subscription{ch: make(chan Event, b.capacity)}
	b.runs[runID] = sub
	b.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() { b.unsubscribe(runID, sub) })
	}
	stop := context.AfterFunc(ctx, detach)
	cancel := func() {
		stop()
		detach()
	}

	b.logger.Debug("subscriber attached", zap.String("run_id", runID))
	return sub.ch, cancel, nil
}

func (b *Bus) unsubscribe(runID string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.runs[runID]; ok && current == sub {
		delete(b.runs, runID)
		close(sub.ch)
		b.logger.Debug("subscriber detached",
			zap.String("run_id", runID),
			zap.Int64("dropped", sub.dropped),
		)
	}
}

// Subscribed 当前是否有订阅者
func (b *Bus) Subscribed(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.runs[runID]
	return ok
}

// Dropped 返回当前订阅期间因队列满被丢弃的事件数
func (b *Bus) Dropped(runID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.runs[runID]; ok {
		return sub.dropped
	}
	return 0
}

// DroppedTotal 因队列满被丢弃的事件总数
func (b *Bus) DroppedTotal() int64 { return b.dropped.Load() }

// Unobserved 没有订阅者而被丢弃的事件总数
func (b *Bus) Unobserved() int64 { return b.unobserved.Load() }

var _ Publisher = (*Bus)(nil)
