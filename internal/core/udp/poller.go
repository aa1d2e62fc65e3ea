package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// Handler 处理一个收到的报文
//
// payload 只在调用期间有效。
type Handler func(conn *Conn, payload []byte, from *net.UDPAddr)

// Listener 参与轮询的套接字
type Listener struct {
	// Name 用于日志和指标
	Name string

	// Conn 套接字
	Conn *Conn

	// Handle 报文处理函数
	Handle Handler
}

// Poller 在一个 goroutine 中轮流读取多个非阻塞套接字
//
// 每轮依次对每个套接字调用一次 TryRecv。一轮中没有任何报文时等待 Interval。
// ErrWouldBlock 表示无事可做；其他接收错误终止轮询并返回。
type Poller struct {
	Listeners []Listener

	// Interval 空闲等待时间
	Interval time.Duration

	// Stop 停止信号，可为 nil
	Stop *lifecycle.StopSignal

	// OnDrop 请求因速率限制被丢弃时调用，可为 nil
	OnDrop func(listener string)
}

// Run 运行轮询直到 ctx 取消、收到停止请求或发生接收错误
//
// 因停止请求或取消而退出时返回 nil。
func (p *Poller) Run(ctx context.Context) error {
	if len(p.Listeners) == 0 {
		return errors.New("udp: poller has no listeners")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}

	var stopDone <-chan struct{}
	if p.Stop != nil {
		stopDone = p.Stop.Done()
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for p.shouldContinue(ctx) {
		busy := false
		for _, l := range p.Listeners {
			n, from, err := l.Conn.TryRecv(buf)
			if errors.Is(err, ErrWouldBlock) {
				continue
			}
			if err != nil {
				if !p.shouldContinue(ctx) {
					return nil
				}
				return fmt.Errorf("%s: receive: %w", l.Name, err)
			}

			busy = true
			if !l.Conn.Allow() {
				if p.OnDrop != nil {
					p.OnDrop(l.Name)
				}
				continue
			}
			l.Handle(l.Conn, buf[:n], from)
		}
		if busy {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil
		case <-stopDone:
			return nil
		case <-timer.C:
		}
	}
	return nil
}

func (p *Poller) shouldContinue(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return p.Stop == nil || p.Stop.ShouldContinue()
}
