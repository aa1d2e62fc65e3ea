package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/util/logger"
	"github.com/dep2p/go-permip/pkg/protocol"
)

var log = logger.Logger("echo")

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("echo: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("echo: not started")

	// ErrStopRequested 停止请求尚未清除，需要先调用 Reset
	ErrStopRequested = errors.New("echo: stop requested, reset before start")

	// ErrPeerUnreachable 多次尝试后仍无法登记对端
	ErrPeerUnreachable = errors.New("echo: peer unreachable")
)

// PeerAgent 回显应用需要的代理能力
type PeerAgent interface {
	RegisterPeer(ctx context.Context, appSocket *udp.Conn, peerName string) (*agent.PeerHandle, error)
	RendezvousAddrs() (registration, lookup *net.UDPAddr)
	ShutDown(reason string) bool
}

// EventKind 事件类型
type EventKind int

const (
	// EventConnected 对端已登记
	EventConnected EventKind = iota
	// EventEchoed 收到对端报文并已回显
	EventEchoed
	// EventReturned 自己的心跳回来了
	EventReturned
	// EventSent 已发送心跳
	EventSent
)

// String 返回事件名
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventEchoed:
		return "echoed"
	case EventReturned:
		return "returned"
	case EventSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Event 应用事件，供控制台输出
type Event struct {
	Kind EventKind
	Text string
	Peer *net.UDPAddr
}

// Option 应用选项
type Option func(*App)

// WithClock 设置时间来源
func WithClock(c clock.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithConn 使用已绑定的套接字，应用停止时会关闭它
func WithConn(c *udp.Conn) Option {
	return func(a *App) {
		a.conn = c
	}
}

// WithEventHandler 设置事件回调，回调在应用 goroutine 中执行
func WithEventHandler(fn func(Event)) Option {
	return func(a *App) {
		a.onEvent = fn
	}
}

// App 回显应用
type App struct {
	config  Config
	agent   PeerAgent
	clock   clock.Clock
	onEvent func(Event)
	stop    *lifecycle.StopSignal
	ignore  []*net.UDPAddr

	conn   *udp.Conn
	handle *agent.PeerHandle

	// received 只在应用 goroutine 中访问
	received bool

	// 统计
	echoed   uint64
	returned uint64
	sent     uint64

	// 生命周期
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	mu      sync.Mutex
}

// New 创建回显应用
func New(cfg Config, a PeerAgent, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	if a == nil {
		return nil, errors.New("echo: nil agent")
	}

	registration, lookup := a.RendezvousAddrs()
	app := &App{
		config:   cfg,
		agent:    a,
		clock:    clock.New(),
		onEvent:  func(Event) {},
		stop:     lifecycle.NewStopSignal("echo"),
		ignore:   []*net.UDPAddr{registration, lookup},
		received: true,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 绑定应用套接字并在后台登记对端、运行收发循环
func (a *App) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if !a.stop.ShouldContinue() {
		a.running.Store(false)
		return ErrStopRequested
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		c, err := udp.Listen(ctx, net.JoinHostPort(a.config.ListenAddr, strconv.Itoa(a.config.Port)))
		if err != nil {
			a.running.Store(false)
			return fmt.Errorf("echo: %w", err)
		}
		conn = c
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.conn = conn
	a.cancel = cancel
	a.done = done
	a.err = nil
	a.mu.Unlock()

	log.Info("回显应用启动", "port", conn.Port(), "peer", a.config.PeerName, "keyword", a.config.Keyword)

	go func() {
		defer close(done)
		err := a.run(loopCtx, conn)
		if err != nil {
			log.Error("回显应用异常退出", "err", err)
		}
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
	}()
	return nil
}

// Run 启动应用并阻塞直到 ctx 取消或循环结束
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return a.Stop()
	case <-a.Done():
		err := a.Err()
		_ = a.Stop()
		return err
	}
}

// Stop 停止循环并关闭应用套接字
func (a *App) Stop() error {
	if !a.running.Load() {
		return ErrNotStarted
	}

	a.mu.Lock()
	conn, cancel, done := a.conn, a.cancel, a.done
	a.mu.Unlock()

	a.stop.RequestStop("stop")
	cancel()
	<-done

	// 再次启动时重新监听
	a.mu.Lock()
	a.conn = nil
	a.mu.Unlock()

	a.running.Store(false)
	return conn.Close()
}

// Reset 清除停止请求，使应用可以再次 Start
func (a *App) Reset() {
	a.stop.Reset()
}

// ShutDown 记录原因，关闭应用套接字并关闭代理，总是返回 false
func (a *App) ShutDown(reason string) bool {
	log.Warn("关闭回显应用", "reason", reason)
	a.stop.RequestStop(reason)

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	a.agent.ShutDown(reason)
	return false
}

// RequestStop 请求循环退出
func (a *App) RequestStop(reason string) {
	a.stop.RequestStop(reason)
}

// StopSignal 返回应用的停止信号
func (a *App) StopSignal() *lifecycle.StopSignal {
	return a.stop
}

// Done 返回在循环结束时关闭的 channel，未启动时返回 nil
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err 返回循环的退出错误
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Peer 返回已登记的对端，尚未登记时返回 nil
func (a *App) Peer() *agent.PeerHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// Stats 应用统计
type Stats struct {
	Echoed   uint64
	Returned uint64
	Sent     uint64
}

// Stats 返回应用统计
func (a *App) Stats() Stats {
	return Stats{
		Echoed:   atomic.LoadUint64(&a.echoed),
		Returned: atomic.LoadUint64(&a.returned),
		Sent:     atomic.LoadUint64(&a.sent),
	}
}

// ============================================================================
//                              收发循环
// ============================================================================

func (a *App) run(ctx context.Context, conn *udp.Conn) error {
	h, err := a.connectToPeer(ctx, conn)
	if err != nil || h == nil {
		return err
	}
	a.mu.Lock()
	a.handle = h
	a.mu.Unlock()
	a.onEvent(Event{Kind: EventConnected, Text: h.Name(), Peer: h.PeerUDPAddr(a.config.PeerPort)})

	if !a.wait(ctx, a.config.StartDelay) {
		return nil
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	for a.stop.ShouldContinue() {
		if err := a.processIncoming(h, buf); err != nil {
			if !a.stop.ShouldContinue() {
				return nil
			}
			return err
		}
		a.sendHeartbeat(h)

		if !a.wait(ctx, a.config.Interval) {
			return nil
		}
	}
	return nil
}

// connectToPeer 登记对端，第 n 次失败后等待 n*RetryStep
//
// 被停止时返回 nil, nil。
func (a *App) connectToPeer(ctx context.Context, conn *udp.Conn) (*agent.PeerHandle, error) {
	log.Info("正在连接对端", "peer", a.config.PeerName)

	var lastErr error
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		h, err := a.agent.RegisterPeer(ctx, conn, a.config.PeerName)
		if err == nil {
			log.Info("已连接对端", "peer", a.config.PeerName, "addr", h.PeerUDPAddr(a.config.PeerPort).String())
			return h, nil
		}
		lastErr = err
		log.Warn("连接对端失败，稍后重试", "peer", a.config.PeerName, "attempt", attempt, "err", err)

		if !a.wait(ctx, a.config.RetryStep*time.Duration(attempt)) {
			return nil, nil
		}
	}

	a.ShutDown("peer lookup failed")
	return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, a.config.PeerName, lastErr)
}

// processIncoming 处理套接字上所有待读的报文
func (a *App) processIncoming(h *agent.PeerHandle, buf []byte) error {
	for {
		n, from, err := h.Recv(buf)
		if errors.Is(err, udp.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read app socket: %w", err)
		}
		if a.ignored(from) {
			continue
		}

		msg := protocol.Decode(buf[:n])
		if msg == a.config.Keyword {
			a.received = true
			atomic.AddUint64(&a.returned, 1)
			log.Debug("收到自己的心跳", "from", from.String())
			a.onEvent(Event{Kind: EventReturned, Text: msg, Peer: from})
			continue
		}

		if err := h.Conn().SendTo(protocol.Encode(msg), from); err != nil {
			log.Warn("回显失败", "to", from.String(), "err", err)
			continue
		}
		atomic.AddUint64(&a.echoed, 1)
		log.Debug("已回显", "msg", msg, "to", from.String())
		a.onEvent(Event{Kind: EventEchoed, Text: msg, Peer: from})
	}
}

// sendHeartbeat 上一个心跳已返回时发送下一个
func (a *App) sendHeartbeat(h *agent.PeerHandle) {
	if !a.received {
		return
	}
	to := h.PeerUDPAddr(a.config.PeerPort)
	if err := h.Conn().SendTo(protocol.Encode(a.config.Keyword), to); err != nil {
		log.Warn("发送心跳失败", "to", to.String(), "err", err)
		return
	}
	a.received = false
	atomic.AddUint64(&a.sent, 1)
	a.onEvent(Event{Kind: EventSent, Text: a.config.Keyword, Peer: to})
}

// ignored 判断报文是否来自本机 Rendezvous 点
func (a *App) ignored(from *net.UDPAddr) bool {
	for _, addr := range a.ignore {
		if addr != nil && from.Port == addr.Port && from.IP.Equal(addr.IP) {
			return true
		}
	}
	return false
}

// wait 等待 d，被停止时返回 false
func (a *App) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return a.stop.ShouldContinue()
	}
	select {
	case <-ctx.Done():
		return false
	case <-a.stop.Done():
		return false
	case <-a.clock.After(d):
		return true
	}
}
