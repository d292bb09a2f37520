package workflow

import (
	"errors"
	"fmt"
)

// 哨兵错误
var (
	// ErrFieldOwnership stage 写了不属于自己的字段（编程错误，不重试）
	ErrFieldOwnership = errors.New("field ownership violation")
	// ErrInvalidInput Start 的初始上下文写了保留字段或 stage 的输出字段
	ErrInvalidInput = errors.New("invalid run input")
	// ErrRunBusy 本进程内已有 worker 在驱动该 run
	ErrRunBusy = errors.New("run is being driven by another worker")
	// ErrUnknownGraph 未注册的工作流
	ErrUnknownGraph = errors.New("unknown workflow graph")
	// ErrRunNotFound run 不存在
	ErrRunNotFound = errors.New("run not found")
	// ErrCancelled run 在执行期间被取消或被其他 worker 取代
	ErrCancelled = errors.New("run cancelled")
)

// FatalError 致命领域错误：直接短路到终态，不再执行后续 stage，也不重试。
type FatalError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s aborted: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s aborted: %s", e.Stage, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal 由 stage 返回，表示前置条件不满足，run 应当中止。
func Fatal(reason string, cause error) error {
	return &FatalError{Reason: reason, Err: cause}
}

// IsFatal 检查 err 链中是否有 FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
