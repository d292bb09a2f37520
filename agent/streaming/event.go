package streaming

import "time"

// EventType 进度事件类型
type EventType string

// 编排器事件
const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventRetry          EventType = "retry"
	EventInterrupt      EventType = "interrupt"
	EventResumed        EventType = "resumed"
	EventEditLoop       EventType = "edit_loop"
	EventCompleted      EventType = "completed"
	EventCancelled      EventType = "cancelled"
	EventFailed         EventType = "failed"
)

// Event 单个 run 的进度事件。事件是尽力而为的，从不持久化。
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Data      any       `json:"data,omitempty"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Final 订阅者看到这些事件后应当断开
func (e Event) Final() bool {
	switch e.Type {
	case EventInterrupt, EventCompleted, EventCancelled, EventFailed:
		return true
	}
	return false
}

// Publisher 事件发布接口。实现必须不阻塞调用方。
type Publisher interface {
	Publish(runID string, ev Event)
}

// PublisherFunc 函数适配器
type PublisherFunc func(runID string, ev Event)

// Publish 实现 Publisher
func (f PublisherFunc) Publish(runID string, ev Event) { f(runID, ev) }

// Discard 丢弃所有事件
var Discard Publisher = PublisherFunc(func(string, Event) {})
