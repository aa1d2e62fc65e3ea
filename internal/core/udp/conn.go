package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-permip/internal/util/logger"
)

var log = logger.Logger("udp")

// Option 套接字选项
type Option func(*Conn)

// WithRateLimit 限制每秒接受的请求数，limit <= 0 表示不限制
func WithRateLimit(limit float64, burst int) Option {
	return func(c *Conn) {
		if limit <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// maxPending 暂存队列的容量
const maxPending = 64

// datagram 暂存的报文
type datagram struct {
	data []byte
	from *net.UDPAddr
}

// Conn 带模式标记的 UDP 套接字
//
// 新建的 Conn 处于非阻塞模式。模式只影响 Recv：
// 非阻塞时等同于 TryRecv，阻塞时等待数据或读超时。
//
// RoundTrip 等待应答期间收到的其他来源报文进入暂存队列，
// 之后的 TryRecv、Peek、Recv 先按到达顺序返回暂存的报文。
type Conn struct {
	pc  *net.UDPConn
	raw syscall.RawConn

	limiter *rate.Limiter

	mu       sync.Mutex
	blocking bool
	deadline time.Time
	pending  []datagram

	closeOnce sync.Once
	closeErr  error
}

// Listen 在 addr 上绑定 IPv4 UDP 套接字，设置 SO_REUSEADDR
//
// addr 为 host:port，端口 0 表示由系统分配。
func Listen(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	c, err := Wrap(pc, opts...)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

// Wrap 包装已有的 UDP 连接
func Wrap(pc net.PacketConn, opts ...Option) (*Conn, error) {
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, ErrNotUDP
	}
	raw, err := udpConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}

	c := &Conn{pc: udpConn, raw: raw}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// reuseControl 设置 SO_REUSEADDR
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// ============================================================================
//                              接收
// ============================================================================

// TryRecv 非阻塞接收一个报文，没有数据时返回 ErrWouldBlock
func (c *Conn) TryRecv(buf []byte) (int, *net.UDPAddr, error) {
	if n, from, ok := c.popPending(buf, true); ok {
		return n, from, nil
	}
	return c.recvNow(buf, 0)
}

// Peek 非阻塞查看下一个报文而不取出，没有数据时返回 ErrWouldBlock
func (c *Conn) Peek(buf []byte) (int, *net.UDPAddr, error) {
	if n, from, ok := c.popPending(buf, false); ok {
		return n, from, nil
	}
	return c.recvNow(buf, unix.MSG_PEEK)
}

// Recv 按当前模式接收一个报文
func (c *Conn) Recv(buf []byte) (int, *net.UDPAddr, error) {
	if !c.Blocking() {
		return c.TryRecv(buf)
	}
	if n, from, ok := c.popPending(buf, true); ok {
		return n, from, nil
	}
	return c.readSocket(buf)
}

// TakeFrom 非阻塞取出第一个来自 src 的报文，其他来源的报文保持原有顺序
//
// 没有来自 src 的报文时 ok 为 false。
func (c *Conn) TakeFrom(buf []byte, src *net.UDPAddr) (n int, ok bool, err error) {
	// 先把已到达的报文移入暂存队列，队列满时其余报文留在套接字中
	tmp := make([]byte, len(buf))
	for c.Pending() < maxPending {
		m, from, err := c.recvNow(tmp, 0)
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if err != nil {
			return 0, false, err
		}
		c.stash(tmp[:m], from)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.pending {
		if SameAddr(d.from, src) {
			n = copy(buf, d.data)
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return n, true, nil
		}
	}
	return 0, false, nil
}

// Pending 返回暂存队列中的报文数
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// stash 把报文追加到暂存队列，队列已满时返回 false
func (c *Conn) stash(b []byte, from *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= maxPending {
		return false
	}
	c.pending = append(c.pending, datagram{data: append([]byte(nil), b...), from: from})
	return true
}

// popPending 返回暂存队列的队首报文，remove 为 false 时保留在队列中
func (c *Conn) popPending(buf []byte, remove bool) (int, *net.UDPAddr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0, nil, false
	}
	d := c.pending[0]
	if remove {
		c.pending = c.pending[1:]
	}
	return copy(buf, d.data), d.from, true
}

// readSocket 从套接字阻塞读取一个报文，直到读超时
func (c *Conn) readSocket(buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := c.pc.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil, ErrTimeout
		}
		return 0, nil, err
	}
	return n, from, nil
}

// recvNow 直接调用 recvfrom(MSG_DONTWAIT)，不经过运行时的等待逻辑
func (c *Conn) recvNow(buf []byte, flags int) (int, *net.UDPAddr, error) {
	var (
		n     int
		sa    unix.Sockaddr
		opErr error
	)
	err := c.raw.Read(func(fd uintptr) bool {
		n, sa, opErr = unix.Recvfrom(int(fd), buf, flags|unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if opErr != nil {
		if errors.Is(opErr, unix.EAGAIN) || errors.Is(opErr, unix.EWOULDBLOCK) || errors.Is(opErr, unix.EINTR) {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, fmt.Errorf("recvfrom: %w", opErr)
	}
	return n, sockaddrToUDP(sa), nil
}

// SameAddr 判断两个地址的 IP 与端口是否都相同
func SameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

func sockaddrToUDP(sa unix.Sockaddr) *net.UDPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]).To4(), Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return &net.UDPAddr{IP: ip, Port: v.Port}
	default:
		return nil
	}
}

// ============================================================================
//                              发送与模式
// ============================================================================

// SendTo 发送一个报文
func (c *Conn) SendTo(b []byte, to *net.UDPAddr) error {
	if _, err := c.pc.WriteToUDP(b, to); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Allow 检查速率限制，未配置限制时总是允许
func (c *Conn) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// SetBlocking 设置模式，返回之前的模式
func (c *Conn) SetBlocking(blocking bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.blocking
	c.blocking = blocking
	return prev
}

// Blocking 返回当前是否为阻塞模式
func (c *Conn) Blocking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocking
}

// SetReadDeadline 设置阻塞模式下的读超时，零值表示不超时
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pc.SetReadDeadline(t); err != nil {
		return err
	}
	c.deadline = t
	return nil
}

// ReadDeadline 返回最近一次设置的读超时
func (c *Conn) ReadDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// LocalAddr 返回本地地址
func (c *Conn) LocalAddr() *net.UDPAddr {
	addr, _ := c.pc.LocalAddr().(*net.UDPAddr)
	return addr
}

// Port 返回本地端口
func (c *Conn) Port() int {
	if addr := c.LocalAddr(); addr != nil {
		return addr.Port
	}
	return 0
}

// Close 关闭套接字，重复调用返回第一次的结果
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pc.Close()
	})
	return c.closeErr
}
