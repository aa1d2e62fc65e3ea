package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/rendezvous"
	"github.com/dep2p/go-permip/internal/resolver"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// noHosts 反向解析总是失败，订阅者名称退化为地址文本
type noHosts struct{}

func (noHosts) LookupHost(context.Context, uint32) (string, error) {
	return "", addrcodec.ErrHostNotFound
}

// testbed 回环地址上的一个解析服务和一个 Rendezvous 点
type testbed struct {
	resolver   *resolver.Service
	rendezvous *rendezvous.Service
}

func newTestbed(t *testing.T) *testbed {
	t.Helper()

	rcfg := resolver.DefaultConfig()
	rcfg.ListenAddr = "127.0.0.1"
	rcfg.Port = 0
	res, err := resolver.NewService(rcfg)
	require.NoError(t, err)
	require.NoError(t, res.Start(context.Background()))
	t.Cleanup(func() { _ = res.Stop() })

	scfg := rendezvous.DefaultConfig()
	scfg.ListenAddr = "127.0.0.1"
	scfg.RegistrationPort = 0
	scfg.LookupPort = 0
	rs, err := rendezvous.NewService(scfg, rendezvous.WithHostResolver(noHosts{}))
	require.NoError(t, err)
	require.NoError(t, rs.Start(context.Background()))
	t.Cleanup(func() { _ = rs.Stop() })

	return &testbed{resolver: res, rendezvous: rs}
}

// agentConfig 返回指向 testbed 的代理配置
func (tb *testbed) agentConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.ResolverAddr = "127.0.0.1"
	cfg.ResolverPort = tb.resolver.Addr().Port
	cfg.RendezvousAddr = "127.0.0.1"
	cfg.RegistrationPort = tb.rendezvous.RegistrationAddr().Port
	cfg.LookupPort = tb.rendezvous.LookupAddr().Port
	cfg.RequestTimeout = 500 * time.Millisecond
	return cfg
}

// localAddr 可在测试中修改的本机地址
type localAddr struct {
	v atomic.Uint32
}

func newLocalAddr(t *testing.T, text string) *localAddr {
	l := &localAddr{}
	l.set(t, text)
	return l
}

func (l *localAddr) set(t *testing.T, text string) {
	t.Helper()
	p, err := addrcodec.TextToPacked(text)
	require.NoError(t, err)
	l.v.Store(p)
}

func (l *localAddr) get() (uint32, error) {
	return l.v.Load(), nil
}

func newAgent(t *testing.T, cfg Config, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func startAgent(t *testing.T, cfg Config, mock *clock.Mock, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithClock(mock)}, opts...)
	a := newAgent(t, cfg, opts...)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func newSocket(t *testing.T) *udp.Conn {
	t.Helper()
	pc, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	c, err := udp.Wrap(pc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustPack(t *testing.T, text string) uint32 {
	t.Helper()
	p, err := addrcodec.TextToPacked(text)
	require.NoError(t, err)
	return p
}

// scriptedRendezvous 按查询序号决定应答内容和延迟的 Rendezvous 查询端口
type scriptedRendezvous struct {
	conn    *udp.Conn
	lookups atomic.Int32
}

func newScriptedRendezvous(t *testing.T, reply func(n int32) (string, time.Duration)) *scriptedRendezvous {
	t.Helper()
	s := &scriptedRendezvous{conn: newSocket(t)}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		buf := make([]byte, protocol.MaxDatagramSize)
		for {
			select {
			case <-done:
				return
			default:
			}
			_, from, err := s.conn.TryRecv(buf)
			if errors.Is(err, udp.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			text, delay := reply(s.lookups.Add(1))
			go func() {
				time.Sleep(delay)
				_ = s.conn.SendTo(protocol.Pad(text), from)
			}()
		}
	}()
	return s
}
