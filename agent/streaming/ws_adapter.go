package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketSink 把 run 的事件推送到一个 WebSocket 连接。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type WebSocketSink struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作
	closed bool
}

// NewWebSocketSink 从已建立的 WebSocket 连接创建 sink。
func NewWebSocketSink(conn *websocket.Conn, logger *zap.Logger) *WebSocketSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSink{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_event_sink")),
	}
}

// Send 将事件序列化为 JSON 并发送。
func (w *WebSocketSink) Send(ctx context.Context, ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Pump 转发事件直到终止事件、channel 关闭或 ctx 结束，然后正常关闭连接。
func (w *WebSocketSink) Pump(ctx context.Context, events <-chan Event) error {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Send(ctx, ev); err != nil {
				w.logger.Debug("stop pumping events", zap.String("run_id", ev.RunID), zap.Error(err))
				return err
			}
			if ev.Final() {
				return nil
			}
		}
	}
}

// Close 关闭 WebSocket 连接。
func (w *WebSocketSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.conn.Close(websocket.StatusNormalClosure, "stream finished")
}
