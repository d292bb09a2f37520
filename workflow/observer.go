package workflow

import "time"

// Observer 接收执行器的运行指标，internal/metrics.Collector 实现了它。
type Observer interface {
	RunStarted(graph string)
	RunFinished(graph, status string)
	StageFinished(graph, stage string, d time.Duration, err error)
	StageRetried(graph, stage string)
	Suspended(graph, gate string)
	Resumed(graph, action string)
	StaleResume()
	EditLoop(graph, mode string, exhausted bool)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string)                                 {}
func (nopObserver) RunFinished(string, string)                        {}
func (nopObserver) StageFinished(string, string, time.Duration, error) {}
func (nopObserver) StageRetried(string, string)                       {}
func (nopObserver) Suspended(string, string)                          {}
func (nopObserver) Resumed(string, string)                            {}
func (nopObserver) StaleResume()                                      {}
func (nopObserver) EditLoop(string, string, bool)                     {}
