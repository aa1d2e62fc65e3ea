package resolver

import "errors"

// 预定义错误
var (
	// ErrAlreadyStarted 已启动
	ErrAlreadyStarted = errors.New("resolver: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("resolver: not started")

	// ErrStopRequested 停止请求尚未清除，需要先调用 Reset
	ErrStopRequested = errors.New("resolver: stop requested, reset before start")

	// ErrInvalidSeed 名称表文件内容无效
	ErrInvalidSeed = errors.New("resolver: invalid seed file")
)
