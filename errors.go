package permip

import (
	"errors"

	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/pkg/addrcodec"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ErrNoRoles 没有选择任何角色
	ErrNoRoles = errors.New("no roles selected")

	// ErrUnknownRole 未知角色名
	ErrUnknownRole = errors.New("unknown role")

	// ────────────────────────────────────────────────────────────────────────
	// 对端与地址错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrPeerNotFound 解析服务或 Rendezvous 点不认识对端名称
	ErrPeerNotFound = agent.ErrPeerNotFound

	// ErrRetriesExhausted 解析服务查询重试次数用尽
	ErrRetriesExhausted = agent.ErrRetriesExhausted

	// ErrMalformedAddress 地址文本不是四段点分十进制
	ErrMalformedAddress = addrcodec.ErrMalformedAddress

	// ErrNoInterfaceFound 没有符合条件的本机接口地址
	ErrNoInterfaceFound = addrcodec.ErrNoInterfaceFound
)
