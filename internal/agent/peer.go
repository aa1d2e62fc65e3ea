package agent

import (
	"errors"
	"net"
	"sync"

	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// PeerHandle 应用套接字上的一个对端
//
// 保存对端当前地址的缓存。来自对端 Rendezvous 点的推送会原地更新该地址。
type PeerHandle struct {
	name       string
	conn       *udp.Conn
	rendezvous *net.UDPAddr

	// mu 串行化对 conn 的读取，并保护下面的字段
	mu       sync.Mutex
	peerAddr uint32
	updates  uint64
}

func newPeerHandle(name string, conn *udp.Conn, rendezvous *net.UDPAddr, peerAddr uint32) *PeerHandle {
	return &PeerHandle{
		name:       name,
		conn:       conn,
		rendezvous: rendezvous,
		peerAddr:   peerAddr,
	}
}

// Name 返回对端逻辑名
func (h *PeerHandle) Name() string {
	return h.name
}

// Conn 返回应用套接字
func (h *PeerHandle) Conn() *udp.Conn {
	return h.conn
}

// Rendezvous 返回对端 Rendezvous 点的查询地址
func (h *PeerHandle) Rendezvous() *net.UDPAddr {
	return h.rendezvous
}

// PeerAddr 返回对端当前地址
func (h *PeerHandle) PeerAddr() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peerAddr
}

// PeerUDPAddr 返回对端当前地址与给定端口组成的 UDP 地址
func (h *PeerHandle) PeerUDPAddr(port int) *net.UDPAddr {
	return addrcodec.PackedToUDPAddr(h.PeerAddr(), port)
}

// Updates 返回已应用的推送次数
func (h *PeerHandle) Updates() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates
}

// Recv 非阻塞读取一个应用报文
//
// 来自对端 Rendezvous 点的推送会被应用并跳过。没有应用报文时返回 udp.ErrWouldBlock。
func (h *PeerHandle) Recv(buf []byte) (int, *net.UDPAddr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		n, from, err := h.conn.TryRecv(buf)
		if err != nil {
			return 0, nil, err
		}
		if !h.fromRendezvous(from) {
			return n, from, nil
		}
		h.applyLocked(buf[:n])
	}
}

// poll 取出并应用套接字队首的所有推送，遇到应用报文时停止
//
// 返回应用的推送数。udp.ErrWouldBlock 不视为错误。
func (h *PeerHandle) poll(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	applied := 0
	for {
		_, from, err := h.conn.Peek(buf)
		if errors.Is(err, udp.ErrWouldBlock) {
			return applied, nil
		}
		if err != nil {
			return applied, err
		}
		if !h.fromRendezvous(from) {
			return applied, nil
		}

		n, _, err := h.conn.TryRecv(buf)
		if err != nil {
			return applied, err
		}
		if h.applyLocked(buf[:n]) {
			applied++
		}
	}
}

// fromRendezvous 判断报文是否来自对端 Rendezvous 点（地址与端口都相同）
func (h *PeerHandle) fromRendezvous(from *net.UDPAddr) bool {
	return udp.SameAddr(from, h.rendezvous)
}

// applyLocked 解析推送内容并更新对端地址，调用方持有 h.mu
func (h *PeerHandle) applyLocked(payload []byte) bool {
	text := protocol.Decode(payload)
	addr, err := addrcodec.TextToPacked(text)
	if err != nil {
		log.Warn("丢弃无效推送", "peer", h.name, "payload", text, "err", err)
		return false
	}
	old := h.peerAddr
	h.peerAddr = addr
	h.updates++
	log.Info("对端地址已更新", "peer", h.name,
		"old", addrcodec.PackedToText(old),
		"new", text)
	return true
}
