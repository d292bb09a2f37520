package workflow

import (
	"fmt"

	"github.com/BaSui01/reportflow/agent/checkpoint"
)

// DefaultMaxEditIterations 编辑循环默认上限
const DefaultMaxEditIterations = 5

// EditLoop 把 [loop start, gate] 包进一个有界循环。
// 每次进入循环 EditIterations 加一，超过 Max 时强制结束，不再重跑也不再发审批请求。
type EditLoop struct {
	Max int
}

func (l EditLoop) max() int {
	if l.Max <= 0 {
		return DefaultMaxEditIterations
	}
	return l.Max
}

// Enter 根据重做决策进入循环，写入 cp.Loop。返回 false 表示次数已耗尽。
func (l EditLoop) Enter(g *Graph, cp *checkpoint.Checkpoint, gateIdx int, t Transition, feedback string) (bool, error) {
	cp.EditIterations++
	if cp.EditIterations > l.max() {
		cp.Loop = nil
		return false, nil
	}

	cursor := &checkpoint.LoopCursor{Gate: gateIdx}
	switch t.Kind {
	case TransitionNarrowRetry:
		cursor.Mode = checkpoint.LoopNarrow
		cursor.Next = gateIdx - 1
		cursor.Feedback = feedback
	case TransitionWideRetry:
		gate := g.Stage(gateIdx).Gate
		start, ok := g.Index(gate.LoopStart)
		if !ok {
			return false, fmt.Errorf("gate %s: unknown loop start %q", g.Stage(gateIdx).Name, gate.LoopStart)
		}
		cursor.Mode = checkpoint.LoopWide
		cursor.Next = start
		if feedback != "" {
			hints := append(QueryHints(cp.State), feedback)
			if err := cp.State.Set(KeyQueryHints, hints); err != nil {
				return false, err
			}
		}
	default:
		return false, fmt.Errorf("transition %q is not a retry", t.Kind)
	}

	cp.Loop = cursor
	return true, nil
}
