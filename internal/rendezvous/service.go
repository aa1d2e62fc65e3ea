package rendezvous

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
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

var log = logger.Logger("rendezvous")

const (
	serviceName      = "rendezvous"
	registrationName = "registration"
	lookupName       = "lookup"
)

// Service Rendezvous 服务
type Service struct {
	config  Config
	store   *Store
	hosts   addrcodec.HostResolver
	metrics metrics.Reporter
	stop    *lifecycle.StopSignal

	// 监听器
	regConn    *udp.Conn
	lookupConn *udp.Conn

	// 统计
	registersReceived uint64
	lookupsReceived   uint64
	pushesSent        uint64
	pushesFailed      uint64

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

// WithHostResolver 设置订阅者反向解析器
func WithHostResolver(r addrcodec.HostResolver) Option {
	return func(s *Service) {
		if r != nil {
			s.hosts = r
		}
	}
}

// NewService 创建 Rendezvous 服务
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rendezvous: %w", err)
	}

	s := &Service{
		config:  cfg,
		store:   NewStore(),
		metrics: metrics.Nop{},
		stop:    lifecycle.NewStopSignal(serviceName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hosts == nil {
		s.hosts = NewHostResolver(cfg.HostLookup)
	}
	return s, nil
}

// Store 返回底层存储
func (s *Service) Store() *Store {
	return s.store
}

// Subscribers 返回名称的订阅者
func (s *Service) Subscribers(name string) []Subscriber {
	return s.store.Subscribers(name)
}

// Stats 服务统计
type Stats struct {
	StoreStats

	RegistersReceived uint64
	LookupsReceived   uint64
	PushesSent        uint64
	PushesFailed      uint64
}

// Stats 返回服务统计
func (s *Service) Stats() Stats {
	return Stats{
		StoreStats:        s.store.Stats(),
		RegistersReceived: atomic.LoadUint64(&s.registersReceived),
		LookupsReceived:   atomic.LoadUint64(&s.lookupsReceived),
		PushesSent:        atomic.LoadUint64(&s.pushesSent),
		PushesFailed:      atomic.LoadUint64(&s.pushesFailed),
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 绑定两个监听端口并在后台运行轮询循环
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

	limit := udp.WithRateLimit(s.config.RateLimit, s.config.RateBurst)
	regConn, err := udp.Listen(ctx, net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.RegistrationPort)), limit)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("rendezvous: registration listener: %w", err)
	}
	lookupConn, err := udp.Listen(ctx, net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.LookupPort)), limit)
	if err != nil {
		_ = regConn.Close()
		s.running.Store(false)
		return fmt.Errorf("rendezvous: lookup listener: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.regConn = regConn
	s.lookupConn = lookupConn
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.mu.Unlock()

	log.Info("Rendezvous 点已启动",
		"registration", regConn.LocalAddr().String(),
		"lookup", lookupConn.LocalAddr().String())

	go func() {
		defer close(done)
		err := s.serve(loopCtx, regConn, lookupConn)
		if err != nil {
			log.Error("Rendezvous 点已停止", "err", err)
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

// Stop 停止轮询并关闭两个监听器
func (s *Service) Stop() error {
	if !s.running.Load() {
		return ErrNotStarted
	}

	s.mu.Lock()
	regConn, lookupConn, cancel, done := s.regConn, s.lookupConn, s.cancel, s.done
	s.mu.Unlock()

	s.stop.RequestStop("stop")
	cancel()
	<-done

	err := regConn.Close()
	if lerr := lookupConn.Close(); err == nil {
		err = lerr
	}
	s.running.Store(false)
	return err
}

// ShutDown 记录原因、请求停止并关闭监听器，总是返回 false
func (s *Service) ShutDown(reason string) bool {
	log.Warn("关闭 Rendezvous 点", "reason", reason)
	s.stop.RequestStop(reason)

	s.mu.Lock()
	regConn, lookupConn := s.regConn, s.lookupConn
	s.mu.Unlock()
	if regConn != nil {
		_ = regConn.Close()
	}
	if lookupConn != nil {
		_ = lookupConn.Close()
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

// RegistrationAddr 返回注册监听地址，未启动时返回 nil
func (s *Service) RegistrationAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regConn == nil {
		return nil
	}
	return s.regConn.LocalAddr()
}

// LookupAddr 返回查询监听地址，未启动时返回 nil
func (s *Service) LookupAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupConn == nil {
		return nil
	}
	return s.lookupConn.LocalAddr()
}

// ============================================================================
//                              请求处理
// ============================================================================

func (s *Service) serve(ctx context.Context, regConn, lookupConn *udp.Conn) error {
	p := &udp.Poller{
		Listeners: []udp.Listener{
			{Name: registrationName, Conn: regConn, Handle: func(conn *udp.Conn, payload []byte, from *net.UDPAddr) {
				s.handleRegister(conn, lookupConn, payload, from)
			}},
			{Name: lookupName, Conn: lookupConn, Handle: s.handleLookup},
		},
		Interval: s.config.PollInterval,
		Stop:     s.stop,
		OnDrop: func(listener string) {
			s.metrics.RequestDropped(serviceName, "rate_limited")
			log.Debug("丢弃请求", "listener", listener, "reason", "rate_limited")
		},
	}
	return p.Run(ctx)
}

// handleRegister 处理注册请求
//
// 地址取自报文来源。推送从 pushConn（查询监听器）发出，应答从注册监听器发出。
func (s *Service) handleRegister(conn, pushConn *udp.Conn, payload []byte, from *net.UDPAddr) {
	atomic.AddUint64(&s.registersReceived, 1)
	start := time.Now()

	name := protocol.Decode(payload)
	packed, _, ok := addrcodec.UDPAddrToPacked(from)
	if !ok || protocol.ValidateName(name) != nil {
		s.reply(conn, "", from)
		s.metrics.RequestHandled(serviceName, "register", "invalid", time.Since(start))
		log.Debug("无效注册请求", "name", name, "from", from.String())
		return
	}

	targets := s.store.Register(name, packed)
	addrText := addrcodec.PackedToText(packed)
	log.Info("注册已更新", "name", name, "addr", addrText, "subscribers", len(targets))

	s.pushAll(pushConn, addrText, targets)
	s.reply(conn, protocol.FormatRegistrationReply(name, packed), from)

	s.metrics.SetRegistrations(s.store.Stats().Registrations)
	s.metrics.RequestHandled(serviceName, "register", "ok", time.Since(start))
}

// pushAll 将新地址推送给每个订阅者，不等待确认
func (s *Service) pushAll(conn *udp.Conn, addrText string, targets []PushTarget) {
	msg := protocol.Encode(addrText)
	for _, t := range targets {
		if err := conn.SendTo(msg, t.Addr); err != nil {
			atomic.AddUint64(&s.pushesFailed, 1)
			s.metrics.PushSent(false)
			log.Warn("推送失败", "subscriber", t.Subscriber.Name, "port", t.Subscriber.Port, "err", err)
			continue
		}
		atomic.AddUint64(&s.pushesSent, 1)
		s.metrics.PushSent(true)
		log.Debug("已推送地址", "to", t.Addr.String(), "addr", addrText)
	}
}

// handleLookup 处理查询/订阅请求
//
// 名称已注册时切换来源在订阅集合中的成员关系。
func (s *Service) handleLookup(conn *udp.Conn, payload []byte, from *net.UDPAddr) {
	atomic.AddUint64(&s.lookupsReceived, 1)
	start := time.Now()

	name := protocol.Decode(payload)
	host, port, ok := addrcodec.UDPAddrToPacked(from)
	if name == "" || !ok {
		s.reply(conn, "", from)
		s.metrics.RequestHandled(serviceName, "lookup", "invalid", time.Since(start))
		return
	}

	if _, registered := s.store.Lookup(name); !registered {
		s.reply(conn, "", from)
		s.metrics.RequestHandled(serviceName, "lookup", "miss", time.Since(start))
		log.Debug("查询未注册名称", "name", name, "from", from.String())
		return
	}

	sub := Subscriber{Name: s.subscriberName(host), Port: port}
	addr, subscribed, _ := s.store.ToggleSubscription(name, sub, host)
	s.reply(conn, addrcodec.PackedToText(addr), from)

	s.metrics.SetSubscriptions(s.store.Stats().Subscriptions)
	s.metrics.RequestHandled(serviceName, "lookup", "hit", time.Since(start))
	log.Info("订阅已切换", "name", name, "subscriber", sub.Name, "port", sub.Port, "subscribed", subscribed)
}

// subscriberName 返回来源主机名，反向解析失败时使用地址文本
func (s *Service) subscriberName(host uint32) string {
	if name := addrcodec.HostName(context.Background(), s.hosts, host); name != "" {
		return name
	}
	return addrcodec.PackedToText(host)
}

func (s *Service) reply(conn *udp.Conn, msg string, to *net.UDPAddr) {
	if err := conn.SendTo(protocol.Pad(msg), to); err != nil {
		log.Warn("发送应答失败", "to", to.String(), "err", err)
		s.metrics.RequestDropped(serviceName, "send_failed")
	}
}
