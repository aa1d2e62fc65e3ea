package udp

import "errors"

var (
	// ErrWouldBlock 当前没有可读数据
	ErrWouldBlock = errors.New("udp: would block")

	// ErrNotUDP 传入的连接不是 UDP 连接
	ErrNotUDP = errors.New("udp: not a UDP connection")

	// ErrTimeout 阻塞往返在超时前没有收到应答
	ErrTimeout = errors.New("udp: round trip timed out")

	// ErrRateLimited 请求超过监听器的速率限制
	ErrRateLimited = errors.New("udp: rate limited")
)
