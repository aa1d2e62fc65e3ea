package echo

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/rendezvous"
	"github.com/dep2p/go-permip/internal/resolver"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

type noHosts struct{}

func (noHosts) LookupHost(context.Context, uint32) (string, error) {
	return "", addrcodec.ErrHostNotFound
}

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

// startAgent 启动一个注册了 name 的代理，并在解析服务中登记
func (tb *testbed) startAgent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	tb.resolver.AddName(name, "127.0.0.1")

	cfg := agent.DefaultConfig()
	cfg.Name = name
	cfg.ResolverAddr = "127.0.0.1"
	cfg.ResolverPort = tb.resolver.Addr().Port
	cfg.RendezvousAddr = "127.0.0.1"
	cfg.RegistrationPort = tb.rendezvous.RegistrationAddr().Port
	cfg.LookupPort = tb.rendezvous.LookupAddr().Port
	cfg.LocalAddress = "128.1.1.1"
	cfg.RequestTimeout = 500 * time.Millisecond

	a, err := agent.New(cfg, agent.WithClock(clock.NewMock()))
	require.NoError(t, err)
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

func appConfig(keyword, peer string, peerPort int) Config {
	cfg := DefaultConfig()
	cfg.Keyword = keyword
	cfg.PeerName = peer
	cfg.PeerPort = peerPort
	cfg.StartDelay = 0
	cfg.Interval = 10 * time.Millisecond
	cfg.RetryStep = time.Millisecond
	return cfg
}

// events 线程安全的事件记录
type events struct {
	mu   sync.Mutex
	list []Event
}

func (e *events) add(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) count(kind EventKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.list {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestConfig_Validate(t *testing.T) {
	cfg := appConfig("ping", "desk", 7000)
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty keyword", func(c *Config) { c.Keyword = "" }},
		{"empty peer", func(c *Config) { c.PeerName = "" }},
		{"zero peer port", func(c *Config) { c.PeerPort = 0 }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := appConfig("ping", "desk", 7000)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "connected", EventConnected.String())
	assert.Equal(t, "echoed", EventEchoed.String())
	assert.Equal(t, "returned", EventReturned.String())
	assert.Equal(t, "sent", EventSent.String())
	assert.Equal(t, "unknown", EventKind(42).String())
}

func TestApp_TwoWayEcho(t *testing.T) {
	tb := newTestbed(t)
	laptop := tb.startAgent(t, "laptop")
	desk := tb.startAgent(t, "desk")

	sockA, sockB := newSocket(t), newSocket(t)
	var evA, evB events

	appA, err := New(appConfig("ping-a", "desk", sockB.Port()), laptop,
		WithConn(sockA), WithEventHandler(evA.add))
	require.NoError(t, err)
	appB, err := New(appConfig("ping-b", "laptop", sockA.Port()), desk,
		WithConn(sockB), WithEventHandler(evB.add))
	require.NoError(t, err)

	require.NoError(t, appA.Start(context.Background()))
	require.NoError(t, appB.Start(context.Background()))
	defer appA.Stop()
	defer appB.Stop()

	require.Eventually(t, func() bool {
		a, b := appA.Stats(), appB.Stats()
		return a.Returned >= 2 && b.Returned >= 2 && a.Echoed >= 1 && b.Echoed >= 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, evA.count(EventConnected))
	assert.GreaterOrEqual(t, evA.count(EventSent), 2)
	assert.GreaterOrEqual(t, evB.count(EventEchoed), 1)
	require.NotNil(t, appA.Peer())
	assert.Equal(t, "desk", appA.Peer().Name())

	// 每个心跳都在前一个返回之后才发出
	a := appA.Stats()
	assert.LessOrEqual(t, a.Sent, a.Returned+1)
}

func TestApp_HeartbeatWaitsForReturn(t *testing.T) {
	tb := newTestbed(t)
	laptop := tb.startAgent(t, "laptop")

	// 对端是一个不回显的普通套接字
	silent := newSocket(t)
	tb.resolver.AddName("silent", "127.0.0.1")
	_, err := udp.RoundTrip(context.Background(), nil, tb.rendezvous.RegistrationAddr(),
		protocol.Encode("silent"), time.Second)
	require.NoError(t, err)

	app, err := New(appConfig("ping-a", "silent", silent.Port()), laptop, WithConn(newSocket(t)))
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	defer app.Stop()

	buf := make([]byte, protocol.MaxDatagramSize)
	var (
		n    int
		from *net.UDPAddr
	)
	require.Eventually(t, func() bool {
		n, from, err = silent.TryRecv(buf)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping-a", protocol.Decode(buf[:n]))

	// 心跳未返回，不会再发
	time.Sleep(100 * time.Millisecond)
	_, _, err = silent.TryRecv(buf)
	assert.ErrorIs(t, err, udp.ErrWouldBlock)
	assert.Equal(t, uint64(1), app.Stats().Sent)

	// 返回心跳后继续发送
	require.NoError(t, silent.SendTo(protocol.Encode("ping-a"), from))
	require.Eventually(t, func() bool {
		_, _, err = silent.TryRecv(buf)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), app.Stats().Returned)

	// 其他内容原样回显
	require.NoError(t, silent.SendTo(protocol.Encode("hello"), from))
	require.Eventually(t, func() bool {
		n, _, err = silent.TryRecv(buf)
		return err == nil && protocol.Decode(buf[:n]) == "hello"
	}, 2*time.Second, 5*time.Millisecond)
}

// unreachableAgent 登记对端总是失败
type unreachableAgent struct {
	mu       sync.Mutex
	attempts int
	reasons  []string
}

func (u *unreachableAgent) RegisterPeer(context.Context, *udp.Conn, string) (*agent.PeerHandle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	return nil, agent.ErrPeerNotFound
}

func (u *unreachableAgent) RendezvousAddrs() (*net.UDPAddr, *net.UDPAddr) {
	return nil, nil
}

func (u *unreachableAgent) ShutDown(reason string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reasons = append(u.reasons, reason)
	return false
}

func TestApp_PeerUnreachable(t *testing.T) {
	fake := &unreachableAgent{}
	cfg := appConfig("ping", "desk", 7000)
	cfg.MaxAttempts = 3
	cfg.ListenAddr = "127.0.0.1"

	app, err := New(cfg, fake)
	require.NoError(t, err)

	err = app.Run(context.Background())
	assert.ErrorIs(t, err, ErrPeerUnreachable)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 3, fake.attempts)
	assert.Equal(t, []string{"peer lookup failed"}, fake.reasons)
	assert.Nil(t, app.Peer())
}

func TestApp_Lifecycle(t *testing.T) {
	fake := &unreachableAgent{}
	cfg := appConfig("ping", "desk", 7000)
	cfg.ListenAddr = "127.0.0.1"
	cfg.RetryStep = time.Hour

	app, err := New(cfg, fake, WithClock(clock.NewMock()))
	require.NoError(t, err)
	assert.ErrorIs(t, app.Stop(), ErrNotStarted)

	require.NoError(t, app.Start(context.Background()))
	assert.ErrorIs(t, app.Start(context.Background()), ErrAlreadyStarted)

	// 停在重试等待中，停止请求应立即生效
	app.RequestStop("test")
	select {
	case <-app.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.NoError(t, app.Err())
	assert.NoError(t, app.Stop())

	assert.ErrorIs(t, app.Start(context.Background()), ErrStopRequested)
	assert.ErrorIs(t, app.Stop(), ErrNotStarted)

	// Reset 之后重新监听应用套接字
	app.Reset()
	require.NoError(t, app.Start(context.Background()))
	assert.NoError(t, app.Stop())
}

func TestNew_NilAgent(t *testing.T) {
	_, err := New(appConfig("ping", "desk", 7000), nil)
	assert.Error(t, err)

	cfg := appConfig("ping", "", 7000)
	_, err = New(cfg, &unreachableAgent{})
	assert.ErrorIs(t, err, protocol.ErrEmptyName)
}
