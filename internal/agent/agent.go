package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/util/logger"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

var log = logger.Logger("agent")

const serviceName = "agent"

// 代理事件，用于指标
const (
	eventRegistered     = "registered"
	eventRegisterFailed = "register_failed"
	eventReregister     = "reregister"
	eventPushApplied    = "push_applied"
	eventPeerRegistered = "peer_registered"
	eventLookupRetry    = "lookup_retry"
)

// Agent 移动代理
type Agent struct {
	id        string
	config    Config
	clock     clock.Clock
	localAddr addrcodec.LocalAddressFunc
	metrics   metrics.Reporter
	stop      *lifecycle.StopSignal

	resolver     *net.UDPAddr
	registration *net.UDPAddr

	peersMu sync.RWMutex
	peers   map[*udp.Conn]*PeerHandle
	// lookups 已发出但没有得到可用应答的 Rendezvous 查询，由 peersMu 保护
	lookups map[*udp.Conn]unsettledLookup

	// 注册状态，只在代理循环与 Start 中修改
	regMu          sync.Mutex
	registered     bool
	lastRegistered uint32

	// 统计
	registrations        uint64
	registrationFailures uint64
	pushesApplied        uint64

	// 生命周期
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	mu      sync.Mutex
}

// Option 代理选项
type Option func(*Agent)

// WithClock 设置时间来源
func WithClock(c clock.Clock) Option {
	return func(a *Agent) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithLocalAddressFunc 设置本机地址探测函数
func WithLocalAddressFunc(f addrcodec.LocalAddressFunc) Option {
	return func(a *Agent) {
		if f != nil {
			a.localAddr = f
		}
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(r metrics.Reporter) Option {
	return func(a *Agent) {
		a.metrics = metrics.OrNop(r)
	}
}

// New 创建移动代理
func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	resolverAddr, _ := addrcodec.TextToPacked(cfg.ResolverAddr)
	rendezvousAddr, _ := addrcodec.TextToPacked(cfg.RendezvousAddr)

	a := &Agent{
		id:           uuid.NewString(),
		config:       cfg,
		clock:        clock.New(),
		localAddr:    addrcodec.CurrentLocalAddress,
		metrics:      metrics.Nop{},
		stop:         lifecycle.NewStopSignal(serviceName),
		resolver:     addrcodec.PackedToUDPAddr(resolverAddr, cfg.ResolverPort),
		registration: addrcodec.PackedToUDPAddr(rendezvousAddr, cfg.RegistrationPort),
		peers:        make(map[*udp.Conn]*PeerHandle),
		lookups:      make(map[*udp.Conn]unsettledLookup),
	}
	if cfg.LocalAddress != "" {
		fixed, _ := addrcodec.TextToPacked(cfg.LocalAddress)
		a.localAddr = func() (uint32, error) { return fixed, nil }
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ID 返回代理实例标识
func (a *Agent) ID() string {
	return a.id
}

// Name 返回本机逻辑名
func (a *Agent) Name() string {
	return a.config.Name
}

// RendezvousAddrs 返回本机 Rendezvous 点的注册地址和查询地址
func (a *Agent) RendezvousAddrs() (registration, lookup *net.UDPAddr) {
	lookup = &net.UDPAddr{IP: a.registration.IP, Port: a.config.LookupPort}
	return a.registration, lookup
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 立即注册一次并在后台运行代理循环
//
// 首次注册失败不会使 Start 失败，代理循环会在下一个周期重试。
func (a *Agent) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if !a.stop.ShouldContinue() {
		a.running.Store(false)
		return ErrStopRequested
	}

	log.Info("移动代理启动", "id", a.id, "name", a.config.Name,
		"rendezvous", a.registration.String(), "resolver", a.resolver.String())
	a.refreshRegistration(ctx)

	ticker := a.clock.Ticker(a.config.PollInterval)
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.err = nil
	a.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()
		err := a.loop(loopCtx, ticker)
		if err != nil {
			log.Error("移动代理异常退出", "id", a.id, "err", err)
		}
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
	}()
	return nil
}

// Run 启动代理并阻塞直到 ctx 取消或循环结束
func (a *Agent) Run(ctx context.Context) error {
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

// Stop 停止代理循环
//
// 应用套接字归应用所有，不会被关闭。
func (a *Agent) Stop() error {
	if !a.running.Load() {
		return ErrNotStarted
	}

	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	a.stop.RequestStop("stop")
	cancel()
	<-done

	a.running.Store(false)
	log.Info("移动代理已停止", "id", a.id)
	return nil
}

// ShutDown 记录原因并请求停止，总是返回 false
func (a *Agent) ShutDown(reason string) bool {
	log.Warn("关闭移动代理", "id", a.id, "reason", reason)
	a.stop.RequestStop(reason)
	return false
}

// RequestStop 请求代理循环退出，可在任意 goroutine 调用
func (a *Agent) RequestStop(reason string) {
	a.stop.RequestStop(reason)
}

// Reset 清除停止请求，使代理可以再次 Start
func (a *Agent) Reset() {
	a.stop.Reset()
}

// StopSignal 返回代理的停止信号
func (a *Agent) StopSignal() *lifecycle.StopSignal {
	return a.stop
}

// Done 返回在代理循环结束时关闭的 channel，未启动时返回 nil
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err 返回代理循环的退出错误
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// ============================================================================
//                              代理循环
// ============================================================================

func (a *Agent) loop(ctx context.Context, ticker *clock.Ticker) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for a.stop.ShouldContinue() {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stop.Done():
			return nil
		case <-ticker.C:
		}

		a.refreshRegistration(ctx)
		if err := a.pollPeers(buf); err != nil {
			return err
		}
	}
	return nil
}

// refreshRegistration 本机地址与上次成功注册的地址不同时重新注册
func (a *Agent) refreshRegistration(ctx context.Context) {
	current, err := a.localAddr()
	if err != nil {
		log.Warn("获取本机地址失败", "err", err)
		return
	}

	a.regMu.Lock()
	defer a.regMu.Unlock()

	if a.registered && current == a.lastRegistered {
		return
	}
	if a.registered {
		log.Info("本机地址变化，重新注册",
			"old", addrcodec.PackedToText(a.lastRegistered),
			"new", addrcodec.PackedToText(current))
		a.metrics.AgentEvent(eventReregister)
	}

	if err := a.register(ctx); err != nil {
		atomic.AddUint64(&a.registrationFailures, 1)
		a.metrics.AgentEvent(eventRegisterFailed)
		log.Warn("注册失败", "name", a.config.Name, "rendezvous", a.registration.String(), "err", err)
		return
	}
	a.registered = true
	a.lastRegistered = current
	atomic.AddUint64(&a.registrations, 1)
	a.metrics.AgentEvent(eventRegistered)
}

// register 向本机 Rendezvous 点注册逻辑名
func (a *Agent) register(ctx context.Context) error {
	reply := a.ConnectToServer(ctx, a.config.RendezvousAddr, a.config.RegistrationPort, a.config.Name, nil)
	if reply == "" {
		return errors.New("no registration reply")
	}
	name, observed, err := protocol.ParseRegistrationReply(reply)
	if err != nil {
		return err
	}
	if name != a.config.Name {
		return fmt.Errorf("registration reply for %q", name)
	}
	log.Info("注册成功", "name", name, "observed", addrcodec.PackedToText(observed))
	return nil
}

// pollPeers 检查每个对端套接字上的推送
func (a *Agent) pollPeers(buf []byte) error {
	for _, h := range a.handles() {
		applied, err := h.poll(buf)
		if applied > 0 {
			atomic.AddUint64(&a.pushesApplied, uint64(applied))
			for i := 0; i < applied; i++ {
				a.metrics.AgentEvent(eventPushApplied)
			}
		}
		if err != nil {
			return fmt.Errorf("poll peer %s: %w", h.Name(), err)
		}
	}
	return nil
}

func (a *Agent) handles() []*PeerHandle {
	a.peersMu.RLock()
	defer a.peersMu.RUnlock()
	out := make([]*PeerHandle, 0, len(a.peers))
	for _, h := range a.peers {
		out = append(out, h)
	}
	return out
}

// ============================================================================
//                              对端
// ============================================================================

// RegisterPeer 为应用套接字登记对端并订阅其地址变化
//
// 先向解析服务查询对端的 Rendezvous 点（失败时指数退避重试），
// 再从 appSocket 向该 Rendezvous 点查询对端地址，这一步同时完成订阅。
// 同一套接字上已登记同名对端时直接返回已有的 PeerHandle，避免再次查询取消订阅。
func (a *Agent) RegisterPeer(ctx context.Context, appSocket *udp.Conn, peerName string) (*PeerHandle, error) {
	if appSocket == nil {
		return nil, ErrNilSocket
	}
	if err := protocol.ValidateName(peerName); err != nil {
		return nil, fmt.Errorf("agent: peer name: %w", err)
	}
	if h := a.Peer(appSocket); h != nil && h.Name() == peerName {
		return h, nil
	}

	rendezvousText, err := a.lookupRendezvous(ctx, peerName)
	if err != nil {
		return nil, err
	}
	rendezvousAddr, err := addrcodec.TextToPacked(rendezvousText)
	if err != nil {
		return nil, fmt.Errorf("agent: rendezvous address for %s: %w", peerName, err)
	}
	rendezvous := addrcodec.PackedToUDPAddr(rendezvousAddr, a.config.LookupPort)

	// 替换前先移除旧的登记，避免代理循环与下面的往返同时读取套接字
	a.peersMu.Lock()
	delete(a.peers, appSocket)
	a.peersMu.Unlock()

	reply, err := a.subscribe(ctx, appSocket, rendezvous, peerName)
	if err != nil {
		return nil, err
	}
	if reply == "" {
		// 未注册的名称不会产生订阅
		a.settleLookup(appSocket)
		return nil, fmt.Errorf("%w: %s not registered at %s", ErrPeerNotFound, peerName, rendezvous)
	}
	peerAddr, err := addrcodec.TextToPacked(reply)
	if err != nil {
		a.unsettleLookup(appSocket, unsettledLookup{name: peerName, rendezvous: rendezvous, answered: true})
		return nil, fmt.Errorf("agent: peer address for %s: %w", peerName, err)
	}

	h := newPeerHandle(peerName, appSocket, rendezvous, peerAddr)
	a.peersMu.Lock()
	delete(a.lookups, appSocket)
	a.peers[appSocket] = h
	a.peersMu.Unlock()

	a.metrics.AgentEvent(eventPeerRegistered)
	log.Info("对端已登记", "peer", peerName, "addr", reply,
		"rendezvous", rendezvous.String(), "port", appSocket.Port())
	return h, nil
}

// unsettledLookup 一次没有得到可用应答的 Rendezvous 查询
//
// 每次查询都会切换 Rendezvous 点上的订阅。answered 为 true 表示收到过应答，
// 服务端已经订阅；为 false 表示应答没有在超时前到达，服务端状态未知。
type unsettledLookup struct {
	name       string
	rendezvous *net.UDPAddr
	answered   bool
}

// subscribe 从 appSocket 向 Rendezvous 点查询 peerName 并返回应答
//
// 同一套接字上一次对同名对端的查询没有得到可用应答时不会直接重发：
// 应答迟到则使用迟到的应答；收到过不可用的应答则连续查询两次，
// 第一次取消订阅，第二次重新订阅并取得地址。
func (a *Agent) subscribe(ctx context.Context, appSocket *udp.Conn, rendezvous *net.UDPAddr, peerName string) (string, error) {
	prev, ok := a.unsettled(appSocket)
	if ok && prev.name == peerName && udp.SameAddr(prev.rendezvous, rendezvous) {
		if !prev.answered {
			buf := make([]byte, protocol.MaxDatagramSize)
			n, found, err := appSocket.TakeFrom(buf, rendezvous)
			if err != nil {
				return "", fmt.Errorf("agent: rendezvous lookup for %s: %w", peerName, err)
			}
			if found {
				log.Info("使用迟到的 Rendezvous 应答", "peer", peerName, "rendezvous", rendezvous.String())
				return protocol.Decode(buf[:n]), nil
			}
			// 没有迟到的应答，按请求丢失处理
		} else {
			log.Info("上次应答不可用，重新订阅", "peer", peerName, "rendezvous", rendezvous.String())
			if _, err := a.rendezvousRoundTrip(ctx, appSocket, rendezvous, peerName); err != nil {
				return "", err
			}
		}
	}
	return a.rendezvousRoundTrip(ctx, appSocket, rendezvous, peerName)
}

// rendezvousRoundTrip 发送一次查询，没有应答时记为未确定
func (a *Agent) rendezvousRoundTrip(ctx context.Context, appSocket *udp.Conn, rendezvous *net.UDPAddr, peerName string) (string, error) {
	reply, err := udp.RoundTrip(ctx, appSocket, rendezvous, protocol.Encode(peerName), a.config.RequestTimeout)
	if err != nil {
		a.unsettleLookup(appSocket, unsettledLookup{name: peerName, rendezvous: rendezvous})
		return "", fmt.Errorf("agent: rendezvous lookup for %s: %w", peerName, err)
	}
	return reply, nil
}

func (a *Agent) unsettled(appSocket *udp.Conn) (unsettledLookup, bool) {
	a.peersMu.RLock()
	defer a.peersMu.RUnlock()
	l, ok := a.lookups[appSocket]
	return l, ok
}

func (a *Agent) unsettleLookup(appSocket *udp.Conn, l unsettledLookup) {
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	a.lookups[appSocket] = l
}

func (a *Agent) settleLookup(appSocket *udp.Conn) {
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	delete(a.lookups, appSocket)
}

// lookupRendezvous 向解析服务查询对端的 Rendezvous 点
//
// 超时等传输错误按指数退避重试，最多 MaxAttempts 次；空应答表示名称未知，不重试。
func (a *Agent) lookupRendezvous(ctx context.Context, peerName string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		reply, err := udp.RoundTrip(ctx, nil, a.resolver, protocol.Encode(peerName), a.config.RequestTimeout)
		if err == nil {
			if reply == "" {
				return "", fmt.Errorf("%w: %s unknown to resolver", ErrPeerNotFound, peerName)
			}
			return reply, nil
		}
		lastErr = err

		if attempt == a.config.MaxAttempts {
			break
		}
		wait := a.config.backoff(attempt)
		a.metrics.AgentEvent(eventLookupRetry)
		log.Debug("解析服务查询失败，稍后重试", "peer", peerName, "attempt", attempt, "wait", wait, "err", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.stop.Done():
			return "", fmt.Errorf("agent: stopped while resolving %s", peerName)
		case <-a.clock.After(wait):
		}
	}
	return "", fmt.Errorf("%w: resolving %s after %d attempts: %v", ErrRetriesExhausted, peerName, a.config.MaxAttempts, lastErr)
}

// Peer 返回套接字上登记的对端
func (a *Agent) Peer(appSocket *udp.Conn) *PeerHandle {
	a.peersMu.RLock()
	defer a.peersMu.RUnlock()
	return a.peers[appSocket]
}

// UnregisterPeer 移除套接字上的对端登记
//
// 只在本地移除，Rendezvous 点上的订阅保持不变。
func (a *Agent) UnregisterPeer(appSocket *udp.Conn) {
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	delete(a.peers, appSocket)
	delete(a.lookups, appSocket)
}

// ============================================================================
//                              往返
// ============================================================================

// ConnectToServer 向 serverAddr:port 发送 payload 并等待一个应答
//
// sock 为 nil 时使用临时套接字。sock 的模式在返回前恢复。
// 地址无效或往返失败时返回空字符串。
func (a *Agent) ConnectToServer(ctx context.Context, serverAddr string, port int, payload string, sock *udp.Conn) string {
	packed, err := addrcodec.TextToPacked(serverAddr)
	if err != nil {
		log.Warn("服务器地址无效", "addr", serverAddr, "err", err)
		return ""
	}
	reply, err := udp.RoundTrip(ctx, sock, addrcodec.PackedToUDPAddr(packed, port), protocol.Encode(payload), a.config.RequestTimeout)
	if err != nil {
		log.Debug("连接服务器失败", "addr", serverAddr, "port", port, "err", err)
		return ""
	}
	return reply
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 代理统计
type Stats struct {
	ID                   string
	Registered           bool
	LastRegistered       string
	Registrations        uint64
	RegistrationFailures uint64
	PushesApplied        uint64
	Peers                int
}

// Stats 返回代理统计
func (a *Agent) Stats() Stats {
	a.regMu.Lock()
	registered, last := a.registered, a.lastRegistered
	a.regMu.Unlock()

	a.peersMu.RLock()
	peers := len(a.peers)
	a.peersMu.RUnlock()

	s := Stats{
		ID:                   a.id,
		Registered:           registered,
		Registrations:        atomic.LoadUint64(&a.registrations),
		RegistrationFailures: atomic.LoadUint64(&a.registrationFailures),
		PushesApplied:        atomic.LoadUint64(&a.pushesApplied),
		Peers:                peers,
	}
	if registered {
		s.LastRegistered = addrcodec.PackedToText(last)
	}
	return s
}
