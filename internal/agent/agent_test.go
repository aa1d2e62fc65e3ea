package agent

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/internal/rendezvous"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Name = "laptop"
		cfg.ResolverAddr = "10.0.0.1"
		cfg.RendezvousAddr = "10.0.0.2"
		return cfg
	}
	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"name with space", func(c *Config) { c.Name = "my laptop" }},
		{"bad resolver", func(c *Config) { c.ResolverAddr = "10.0.1" }},
		{"bad rendezvous", func(c *Config) { c.RendezvousAddr = "" }},
		{"bad local", func(c *Config) { c.LocalAddress = "x" }},
		{"zero port", func(c *Config) { c.LookupPort = 0 }},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"backoff inverted", func(c *Config) { c.BackoffMax = c.BackoffBase / 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Second
	cfg.BackoffMax = 5 * time.Second

	assert.Equal(t, time.Second, cfg.backoff(1))
	assert.Equal(t, 2*time.Second, cfg.backoff(2))
	assert.Equal(t, 4*time.Second, cfg.backoff(3))
	assert.Equal(t, 5*time.Second, cfg.backoff(4))
	assert.Equal(t, 5*time.Second, cfg.backoff(20))
}

func TestAgent_StartRegisters(t *testing.T) {
	tb := newTestbed(t)
	a := startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	addr, ok := tb.rendezvous.Store().Lookup("laptop")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", addrcodec.PackedToText(addr))

	stats := a.Stats()
	assert.True(t, stats.Registered)
	assert.Equal(t, "128.1.1.1", stats.LastRegistered)
	assert.Equal(t, uint64(1), stats.Registrations)
	assert.NotEmpty(t, stats.ID)
	assert.Equal(t, a.ID(), stats.ID)
}

func TestAgent_ReregistersOnAddressChange(t *testing.T) {
	tb := newTestbed(t)
	mock := clock.NewMock()
	local := newLocalAddr(t, "128.1.1.1")
	c := metrics.NewCollector()
	cfg := tb.agentConfig("laptop")
	a := startAgent(t, cfg, mock, WithLocalAddressFunc(local.get), WithMetrics(c))

	// 地址未变化时不重新注册
	mock.Add(cfg.PollInterval)
	assert.Never(t, func() bool {
		return tb.rendezvous.Stats().RegistersReceived > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	local.set(t, "129.2.2.2")
	mock.Add(cfg.PollInterval)
	require.Eventually(t, func() bool {
		return a.Stats().Registrations == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(2), tb.rendezvous.Stats().RegistersReceived)
	assert.Equal(t, "129.2.2.2", a.Stats().LastRegistered)
	assert.Equal(t, 1.0, eventCount(t, c, eventReregister))
	assert.Equal(t, 2.0, eventCount(t, c, eventRegistered))
}

func TestAgent_RegistrationFailureRetried(t *testing.T) {
	tb := newTestbed(t)
	cfg := tb.agentConfig("laptop")
	cfg.RequestTimeout = 50 * time.Millisecond

	// 指向一个已关闭的端口
	closed := newSocket(t)
	cfg.RegistrationPort = closed.Port()
	require.NoError(t, closed.Close())

	mock := clock.NewMock()
	a := startAgent(t, cfg, mock, WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	stats := a.Stats()
	assert.False(t, stats.Registered)
	assert.Equal(t, uint64(1), stats.RegistrationFailures)
	assert.Empty(t, stats.LastRegistered)

	mock.Add(cfg.PollInterval)
	require.Eventually(t, func() bool {
		return a.Stats().RegistrationFailures == 2
	}, 2*time.Second, 5*time.Millisecond)
}

// 场景一：对端经解析服务和 Rendezvous 点找到移动主机
func TestScenario_CorrespondentFindsMobile(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")

	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))
	desk := startAgent(t, tb.agentConfig("desk"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.9.9.9").get))

	app := newSocket(t)
	h, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)

	assert.Equal(t, "laptop", h.Name())
	assert.Same(t, app, h.Conn())
	assert.Equal(t, "127.0.0.1", addrcodec.PackedToText(h.PeerAddr()))
	assert.Equal(t, tb.rendezvous.LookupAddr().Port, h.Rendezvous().Port)
	assert.Equal(t, "127.0.0.1:7000", h.PeerUDPAddr(7000).String())
	assert.Same(t, h, desk.Peer(app))

	// 查询时应用套接字完成订阅
	assert.Equal(t, []rendezvous.Subscriber{{Name: "127.0.0.1", Port: app.Port()}},
		tb.rendezvous.Subscribers("laptop"))
	assert.Equal(t, 1, desk.Stats().Peers)

	// 模式已恢复
	assert.False(t, app.Blocking())
}

// 场景二：移动主机换地址后，Rendezvous 点推送，对端句柄被更新
func TestScenario_MobileMoves(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")

	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))
	mock := clock.NewMock()
	cfg := tb.agentConfig("desk")
	desk := startAgent(t, cfg, mock, WithLocalAddressFunc(newLocalAddr(t, "128.9.9.9").get))

	app := newSocket(t)
	h, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)

	// 移动主机从新地址注册
	moved, err := udp.Listen(context.Background(), "127.0.0.2:0")
	if err != nil {
		t.Skipf("127.0.0.2 unavailable: %v", err)
	}
	defer moved.Close()
	reply, err := udp.RoundTrip(context.Background(), moved, tb.rendezvous.RegistrationAddr(),
		protocol.Encode("laptop"), time.Second)
	require.NoError(t, err)
	_, observed, err := protocol.ParseRegistrationReply(reply)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.2", addrcodec.PackedToText(observed))

	mock.Add(cfg.PollInterval)
	require.Eventually(t, func() bool {
		return h.PeerAddr() == observed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), h.Updates())
	assert.Equal(t, uint64(1), desk.Stats().PushesApplied)

	// 推送已被取出，应用看不到它
	_, _, err = app.TryRecv(make([]byte, protocol.MaxDatagramSize))
	assert.ErrorIs(t, err, udp.ErrWouldBlock)
}

func TestAgent_RegisterPeerTwiceKeepsSubscription(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))
	desk := newAgent(t, tb.agentConfig("desk"))

	app := newSocket(t)
	h1, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)
	h2, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Len(t, tb.rendezvous.Subscribers("laptop"), 1)

	desk.UnregisterPeer(app)
	assert.Nil(t, desk.Peer(app))
}

func TestAgent_RegisterPeerKeepsQueuedDatagrams(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))
	desk := newAgent(t, tb.agentConfig("desk"))

	app := newSocket(t)
	stranger := newSocket(t)
	require.NoError(t, stranger.SendTo(protocol.Encode("ping-a"), app.LocalAddr()))
	require.Eventually(t, func() bool {
		_, _, err := app.Peek(make([]byte, 64))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	h, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)
	assert.Equal(t, mustPack(t, "128.1.1.1"), h.PeerAddr())
	assert.Equal(t, []rendezvous.Subscriber{{Name: "127.0.0.1", Port: app.Port()}},
		tb.rendezvous.Subscribers("laptop"))

	// 应用报文没有被当作应答
	buf := make([]byte, protocol.MaxDatagramSize)
	n, from, err := h.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping-a", protocol.Decode(buf[:n]))
	assert.Equal(t, stranger.Port(), from.Port)
}

func TestAgent_RegisterPeerRetryAfterNotRegistered(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	desk := newAgent(t, tb.agentConfig("desk"))
	app := newSocket(t)

	_, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.ErrorIs(t, err, ErrPeerNotFound)

	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	for i := 0; i < 2; i++ {
		_, err = desk.RegisterPeer(context.Background(), app, "laptop")
		require.NoError(t, err)
	}
	assert.Equal(t, []rendezvous.Subscriber{{Name: "127.0.0.1", Port: app.Port()}},
		tb.rendezvous.Subscribers("laptop"))
}

func TestAgent_RegisterPeerUsesLateReply(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	rv := newScriptedRendezvous(t, func(int32) (string, time.Duration) {
		return "10.0.0.9", 150 * time.Millisecond
	})

	cfg := tb.agentConfig("desk")
	cfg.LookupPort = rv.conn.Port()
	cfg.RequestTimeout = 50 * time.Millisecond
	desk := newAgent(t, cfg)
	app := newSocket(t)

	_, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.ErrorIs(t, err, udp.ErrTimeout)

	require.Eventually(t, func() bool {
		_, _, err := app.Peek(make([]byte, 64))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	h, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)
	assert.Equal(t, mustPack(t, "10.0.0.9"), h.PeerAddr())
	assert.Equal(t, int32(1), rv.lookups.Load(), "subscription toggled once")
}

func TestAgent_RegisterPeerAfterUnusableReply(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	rv := newScriptedRendezvous(t, func(n int32) (string, time.Duration) {
		if n == 1 {
			return "garbage", 0
		}
		return "10.0.0.9", 0
	})

	cfg := tb.agentConfig("desk")
	cfg.LookupPort = rv.conn.Port()
	desk := newAgent(t, cfg)
	app := newSocket(t)

	_, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.ErrorIs(t, err, addrcodec.ErrMalformedAddress)

	h, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)
	assert.Equal(t, mustPack(t, "10.0.0.9"), h.PeerAddr())
	// 奇数次查询，服务端最终处于订阅状态
	assert.Equal(t, int32(3), rv.lookups.Load())
}

func TestAgent_RegisterPeerErrors(t *testing.T) {
	tb := newTestbed(t)
	desk := newAgent(t, tb.agentConfig("desk"))
	app := newSocket(t)
	ctx := context.Background()

	_, err := desk.RegisterPeer(ctx, nil, "laptop")
	assert.ErrorIs(t, err, ErrNilSocket)

	_, err = desk.RegisterPeer(ctx, app, "")
	assert.ErrorIs(t, err, protocol.ErrEmptyName)

	// 解析服务不认识
	_, err = desk.RegisterPeer(ctx, app, "laptop")
	assert.ErrorIs(t, err, ErrPeerNotFound)

	// 解析服务认识，但没有在 Rendezvous 点注册
	tb.resolver.AddName("laptop", "127.0.0.1")
	_, err = desk.RegisterPeer(ctx, app, "laptop")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	assert.Nil(t, desk.Peer(app))

	// 解析服务返回无效地址
	tb.resolver.AddName("broken", "not-an-address")
	_, err = desk.RegisterPeer(ctx, app, "broken")
	assert.ErrorIs(t, err, addrcodec.ErrMalformedAddress)
}

func TestAgent_RegisterPeerRetriesExhausted(t *testing.T) {
	closed := newSocket(t)
	port := closed.Port()
	require.NoError(t, closed.Close())

	cfg := DefaultConfig()
	cfg.Name = "desk"
	cfg.ResolverAddr = "127.0.0.1"
	cfg.ResolverPort = port
	cfg.RendezvousAddr = "127.0.0.1"
	cfg.RequestTimeout = 20 * time.Millisecond
	cfg.MaxAttempts = 3
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	c := metrics.NewCollector()
	desk := newAgent(t, cfg, WithMetrics(c))

	_, err := desk.RegisterPeer(context.Background(), newSocket(t), "laptop")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2.0, eventCount(t, c, eventLookupRetry))
}

func TestAgent_RegisterPeerCanceled(t *testing.T) {
	closed := newSocket(t)
	port := closed.Port()
	require.NoError(t, closed.Close())

	cfg := DefaultConfig()
	cfg.Name = "desk"
	cfg.ResolverAddr = "127.0.0.1"
	cfg.ResolverPort = port
	cfg.RendezvousAddr = "127.0.0.1"
	cfg.RequestTimeout = 20 * time.Millisecond
	desk := newAgent(t, cfg, WithClock(clock.NewMock()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := desk.RegisterPeer(ctx, newSocket(t), "laptop")
		errCh <- err
	}()

	// 模拟时钟不前进，查询停在退避等待中
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RegisterPeer did not return")
	}
}

func TestAgent_ConnectToServer(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("python", "128.36.232.37")
	a := newAgent(t, tb.agentConfig("laptop"))
	ctx := context.Background()
	port := tb.resolver.Addr().Port

	assert.Equal(t, "", a.ConnectToServer(ctx, "bogus", port, "python", nil))
	assert.Equal(t, "128.36.232.37", a.ConnectToServer(ctx, "127.0.0.1", port, "python", nil))

	sock := newSocket(t)
	assert.Equal(t, "128.36.232.37", a.ConnectToServer(ctx, "127.0.0.1", port, "python", sock))
	assert.False(t, sock.Blocking())

	sock.SetBlocking(true)
	assert.Equal(t, "", a.ConnectToServer(ctx, "127.0.0.1", port, "nobody", sock))
	assert.True(t, sock.Blocking())
}

func TestAgent_Lifecycle(t *testing.T) {
	tb := newTestbed(t)
	a := newAgent(t, tb.agentConfig("laptop"), WithClock(clock.NewMock()),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	assert.ErrorIs(t, a.Stop(), ErrNotStarted)
	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyStarted)

	assert.False(t, a.ShutDown("leaving"))
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.NoError(t, a.Err())
	require.NoError(t, a.Stop())
	assert.Equal(t, "leaving", a.StopSignal().Reason())

	// 停止请求清除之前不能启动
	assert.ErrorIs(t, a.Start(context.Background()), ErrStopRequested)
	assert.ErrorIs(t, a.Stop(), ErrNotStarted)

	// Reset 之后可以再次启动
	a.Reset()
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}

func TestAgent_RunStopsOnCancel(t *testing.T) {
	tb := newTestbed(t)
	a := newAgent(t, tb.agentConfig("laptop"), WithClock(clock.NewMock()),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Stats().Registered }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestAgent_SocketErrorAbortsLoop(t *testing.T) {
	tb := newTestbed(t)
	tb.resolver.AddName("laptop", "127.0.0.1")
	startAgent(t, tb.agentConfig("laptop"), clock.NewMock(),
		WithLocalAddressFunc(newLocalAddr(t, "128.1.1.1").get))

	mock := clock.NewMock()
	cfg := tb.agentConfig("desk")
	desk := startAgent(t, cfg, mock, WithLocalAddressFunc(newLocalAddr(t, "128.9.9.9").get))

	app := newSocket(t)
	_, err := desk.RegisterPeer(context.Background(), app, "laptop")
	require.NoError(t, err)
	require.NoError(t, app.Close())

	mock.Add(cfg.PollInterval)
	select {
	case <-desk.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Error(t, desk.Err())
}

func eventCount(t *testing.T, c *metrics.Collector, event string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "permip_agent_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "event" && l.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
