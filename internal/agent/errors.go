package agent

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("agent: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("agent: not started")

	// ErrStopRequested 停止请求尚未清除，需要先调用 Reset
	ErrStopRequested = errors.New("agent: stop requested, reset before start")

	// ErrPeerNotFound 解析服务或 Rendezvous 点不认识对端名称
	ErrPeerNotFound = errors.New("agent: peer not found")

	// ErrRetriesExhausted 解析服务查询重试次数用尽
	ErrRetriesExhausted = errors.New("agent: retries exhausted")

	// ErrNilSocket 应用套接字为空
	ErrNilSocket = errors.New("agent: nil socket")
)
