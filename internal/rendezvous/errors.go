package rendezvous

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("rendezvous: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("rendezvous: not started")

	// ErrStopRequested 停止请求尚未清除，需要先调用 Reset
	ErrStopRequested = errors.New("rendezvous: stop requested, reset before start")
)
