// Package lifecycle 提供服务循环的停止信号
//
// 每个服务持有一个 StopSignal，轮询循环每轮检查 ShouldContinue，
// 或在 select 中等待 Done。RequestStop 可以在任意 goroutine 中调用，
// Reset 使同一个服务可以再次启动。
//
// Group 把多个 StopSignal 聚合在一起，进程收到 SIGINT/SIGTERM 时一次性停止全部服务。
package lifecycle

import (
	"sync"

	"github.com/dep2p/go-permip/internal/util/logger"
)

var log = logger.Logger("lifecycle")

// StopSignal 线程安全的停止请求
type StopSignal struct {
	name string

	mu      sync.Mutex
	stopped bool
	reason  string
	done    chan struct{}
}

// NewStopSignal 创建停止信号
func NewStopSignal(name string) *StopSignal {
	return &StopSignal{
		name: name,
		done: make(chan struct{}),
	}
}

// Name 返回信号所属服务名
func (s *StopSignal) Name() string {
	return s.name
}

// RequestStop 请求停止，重复调用无副作用
func (s *StopSignal) RequestStop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.reason = reason
	close(s.done)

	log.Debug("收到停止请求", "service", s.name, "reason", reason)
}

// Reset 清除停止请求，使服务可以重新启动
func (s *StopSignal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		return
	}
	s.stopped = false
	s.reason = ""
	s.done = make(chan struct{})
}

// ShouldContinue 在没有停止请求时返回 true
func (s *StopSignal) ShouldContinue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// Done 返回在 RequestStop 时关闭的 channel
//
// Reset 之后需要重新获取。
func (s *StopSignal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Reason 返回最近一次停止原因
func (s *StopSignal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ============================================================================
//                              信号组
// ============================================================================

// Group 一组停止信号
type Group struct {
	mu      sync.Mutex
	signals []*StopSignal
}

// NewGroup 创建信号组
func NewGroup() *Group {
	return &Group{}
}

// Add 加入信号
func (g *Group) Add(s *StopSignal) {
	if s == nil {
		return
	}
	g.mu.Lock()
	g.signals = append(g.signals, s)
	g.mu.Unlock()
}

// RequestStop 向组内所有信号发出停止请求
func (g *Group) RequestStop(reason string) {
	for _, s := range g.snapshot() {
		s.RequestStop(reason)
	}
}

// Reset 重置组内所有信号
func (g *Group) Reset() {
	for _, s := range g.snapshot() {
		s.Reset()
	}
}

// Len 返回信号数量
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.signals)
}

func (g *Group) snapshot() []*StopSignal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*StopSignal, len(g.signals))
	copy(out, g.signals)
	return out
}
