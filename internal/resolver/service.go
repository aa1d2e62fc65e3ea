package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/util/logger"
	"github.com/dep2p/go-permip/pkg/protocol"
)

var log = logger.Logger("resolver")

const serviceName = "resolver"

// Service 名称解析服务
type Service struct {
	config  Config
	dir     *Directory
	metrics metrics.Reporter
	stop    *lifecycle.StopSignal

	conn    *udp.Conn
	watcher *SeedWatcher

	// 生命周期
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	mu      sync.Mutex
}

// Option 服务选项
type Option func(*Service)

// WithMetrics 设置指标记录器
func WithMetrics(r metrics.Reporter) Option {
	return func(s *Service) {
		s.metrics = metrics.OrNop(r)
	}
}

// NewService 创建解析服务并加载初始名称
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	s := &Service{
		config:  cfg,
		dir:     NewDirectory(),
		metrics: metrics.Nop{},
		stop:    lifecycle.NewStopSignal(serviceName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.SeedDemoNames {
		for name, addr := range DemoNames() {
			s.dir.AddName(name, addr)
		}
	}
	for name, addr := range cfg.Names {
		s.dir.AddName(name, addr)
	}
	if cfg.SeedFile != "" && !cfg.WatchSeedFile {
		names, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		s.dir.ReplaceSeed(names)
	}
	return s, nil
}

// ============================================================================
//                              目录操作
// ============================================================================

// AddName 添加或覆盖一条记录，总是返回 true
func (s *Service) AddName(name, addr string) bool {
	log.Debug("添加名称", "name", name, "addr", addr)
	return s.dir.AddName(name, addr)
}

// LookupName 查询名称，不存在时返回 ""
func (s *Service) LookupName(name string) string {
	return s.dir.LookupName(name)
}

// Names 返回目录快照
func (s *Service) Names() map[string]string {
	return s.dir.Names()
}

// Directory 返回底层目录
func (s *Service) Directory() *Directory {
	return s.dir
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 绑定端口并在后台运行轮询循环
//
// ctx 只用于绑定；循环在 Stop、RequestStop 或接收错误时结束。
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if !s.stop.ShouldContinue() {
		s.running.Store(false)
		return ErrStopRequested
	}

	addr := net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.Port))
	conn, err := udp.Listen(ctx, addr, udp.WithRateLimit(s.config.RateLimit, s.config.RateBurst))
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("resolver: %w", err)
	}

	if s.config.WatchSeedFile {
		w, err := NewSeedWatcher(s.config.SeedFile, s.dir, nil)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			_ = conn.Close()
			s.running.Store(false)
			return fmt.Errorf("resolver: %w", err)
		}
		s.watcher = w
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.mu.Unlock()

	log.Info("解析服务已启动", "addr", conn.LocalAddr().String(), "names", s.dir.Len())

	go func() {
		defer close(done)
		err := s.serve(loopCtx, conn)
		if err != nil {
			log.Error("解析服务已停止", "err", err)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Run 启动服务并阻塞直到 ctx 取消或循环结束
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return s.Stop()
	case <-s.Done():
		err := s.Err()
		_ = s.Stop()
		return err
	}
}

// Stop 停止轮询并关闭套接字
func (s *Service) Stop() error {
	if !s.running.Load() {
		return ErrNotStarted
	}

	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.mu.Unlock()

	s.stop.RequestStop("stop")
	cancel()
	<-done

	if s.watcher != nil {
		_ = s.watcher.Stop()
		s.watcher = nil
	}
	err := conn.Close()
	s.running.Store(false)
	return err
}

// ShutDown 记录原因、请求停止并关闭套接字，总是返回 false
func (s *Service) ShutDown(reason string) bool {
	log.Warn("关闭解析服务", "reason", reason)
	s.stop.RequestStop(reason)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return false
}

// RequestStop 请求轮询循环退出，可在任意 goroutine 调用
func (s *Service) RequestStop(reason string) {
	s.stop.RequestStop(reason)
}

// Reset 清除停止请求，使服务可以再次 Start
func (s *Service) Reset() {
	s.stop.Reset()
}

// StopSignal 返回服务的停止信号
func (s *Service) StopSignal() *lifecycle.StopSignal {
	return s.stop
}

// Done 返回在轮询循环结束时关闭的 channel，未启动时返回 nil
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err 返回轮询循环的退出错误
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Addr 返回监听地址，未启动时返回 nil
func (s *Service) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ============================================================================
//                              请求处理
// ============================================================================

func (s *Service) serve(ctx context.Context, conn *udp.Conn) error {
	p := &udp.Poller{
		Listeners: []udp.Listener{{Name: serviceName, Conn: conn, Handle: s.handleLookup}},
		Interval:  s.config.PollInterval,
		Stop:      s.stop,
		OnDrop: func(string) {
			s.metrics.RequestDropped(serviceName, "rate_limited")
		},
	}
	return p.Run(ctx)
}

// handleLookup 应答一个名称查询
//
// 空请求和未知名称都应答空字符串。
func (s *Service) handleLookup(conn *udp.Conn, payload []byte, from *net.UDPAddr) {
	start := time.Now()
	name := protocol.Decode(payload)

	var addr string
	if name != "" {
		addr = s.dir.LookupName(name)
	}

	if err := conn.SendTo(protocol.Pad(addr), from); err != nil {
		log.Warn("发送应答失败", "to", from.String(), "err", err)
		s.metrics.RequestDropped(serviceName, "send_failed")
		return
	}

	result := "hit"
	if addr == "" {
		result = "miss"
	}
	s.metrics.RequestHandled(serviceName, "lookup", result, time.Since(start))
	log.Debug("已应答查询", "name", name, "addr", addr, "from", from.String())
}
