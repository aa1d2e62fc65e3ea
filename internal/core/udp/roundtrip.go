package udp

import (
	"context"
	"net"
	"time"

	"github.com/dep2p/go-permip/pkg/protocol"
)

// DefaultRoundTripTimeout 阻塞往返的默认超时
const DefaultRoundTripTimeout = 3 * time.Second

// RoundTrip 向 server 发送 payload 并等待一个应答，返回应答中 NUL 之前的内容
//
// 只有源地址与端口都等于 server 的报文才作为应答。等待期间收到的其他报文
// 进入 conn 的暂存队列，应用之后仍能按原顺序读到。
// conn 为 nil 时临时创建套接字并在返回前关闭。
// 无论成功与否，conn 的模式和之前的读超时都会恢复。
// 超时取 timeout 与 ctx 截止时间中较早者。
func RoundTrip(ctx context.Context, conn *Conn, server *net.UDPAddr, payload []byte, timeout time.Duration) (string, error) {
	if conn == nil {
		c, err := Listen(ctx, "0.0.0.0:0")
		if err != nil {
			return "", err
		}
		defer c.Close()
		conn = c
	}

	prev := conn.SetBlocking(true)
	defer conn.SetBlocking(prev)

	if timeout <= 0 {
		timeout = DefaultRoundTripTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	prevDeadline := conn.ReadDeadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	defer func() { _ = conn.SetReadDeadline(prevDeadline) }()

	if err := conn.SendTo(payload, server); err != nil {
		return "", err
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := conn.readSocket(buf)
		if err != nil {
			log.Debug("往返失败", "server", server, "err", err)
			return "", err
		}
		if SameAddr(from, server) {
			log.Debug("往返完成", "server", server, "bytes", n)
			return protocol.Decode(buf[:n]), nil
		}
		if conn.stash(buf[:n], from) {
			log.Debug("往返期间收到其他来源的报文，已暂存", "server", server, "from", from)
		} else {
			log.Warn("暂存队列已满，丢弃报文", "server", server, "from", from)
		}
	}
}
