package permip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/internal/app/echo"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/internal/rendezvous"
	"github.com/dep2p/go-permip/internal/resolver"
	"github.com/dep2p/go-permip/internal/util/logger"
)

var log = logger.Logger("permip")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止，不能再次启动
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// startTimeout Fx 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Close 使用的停止超时
	stopTimeout = 10 * time.Second
)

// Node permip 节点
//
// Node 是一个门面，按角色聚合解析服务、Rendezvous 点、移动代理和回显应用。
// 未启用的角色对应的访问方法返回 nil。
type Node struct {
	config *config.Config
	roles  []Role
	app    *fx.App

	// 由 Fx 注入
	group      *lifecycle.Group
	collector  *metrics.Collector
	resolver   *resolver.Service
	rendezvous *rendezvous.Service
	agent      *agent.Agent
	echo       *echo.App

	mu    sync.Mutex
	state NodeState
}

// New 创建节点
//
// 示例：
//
//	node, err := permip.New(
//	    permip.WithConfigFile("/etc/permip.yaml"),
//	    permip.WithRoles(permip.RoleRendezvous),
//	)
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if len(o.roles) == 0 {
		return nil, ErrNoRoles
	}
	roles := newRoleSet(o.roles)

	if o.config.Log.Level != "" || o.config.Log.Format != "" {
		logger.Apply(o.config.Log.Level, o.config.Log.Format)
	}

	node := &Node{
		config: o.config,
		roles:  roles.list(),
	}

	app, err := buildFxApp(o, node, roles)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 创建节点并立即启动，等价于 New() + Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// Start 启动所有角色
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateIdle:
	case StateStopped, StateStopping:
		return ErrNodeClosed
	default:
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	log.Info("正在启动节点", "roles", n.roles)

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		n.state = StateStopped
		log.Error("节点启动失败", "err", err)
		return fmt.Errorf("start failed: %w", err)
	}

	n.state = StateRunning
	log.Info("节点已启动", "roles", n.roles)
	return nil
}

// Stop 停止所有角色
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateRunning:
	case StateStopped:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}

	n.state = StateStopping
	log.Info("正在停止节点")

	err := n.app.Stop(ctx)
	n.state = StateStopped
	if err != nil {
		log.Error("停止节点失败", "err", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	log.Info("节点已停止")
	return nil
}

// Close 停止节点，重复调用无副作用
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := n.Stop(ctx)
	if errors.Is(err, ErrNodeClosed) || errors.Is(err, ErrNotStarted) {
		n.mu.Lock()
		n.state = StateStopped
		n.mu.Unlock()
		return nil
	}
	return err
}

// RequestStop 请求所有角色的循环退出，可在信号处理中调用
func (n *Node) RequestStop(reason string) {
	if n.group != nil {
		n.group.RequestStop(reason)
	}
}

// Done 返回在任一角色循环结束时关闭的 channel
//
// 节点未启动时返回 nil。
func (n *Node) Done() <-chan struct{} {
	var chans []<-chan struct{}
	if n.resolver != nil {
		chans = append(chans, n.resolver.Done())
	}
	if n.rendezvous != nil {
		chans = append(chans, n.rendezvous.Done())
	}
	if n.agent != nil {
		chans = append(chans, n.agent.Done())
	}
	if n.echo != nil {
		chans = append(chans, n.echo.Done())
	}
	for _, c := range chans {
		if c == nil {
			return nil
		}
	}

	done := make(chan struct{})
	var once sync.Once
	for _, c := range chans {
		go func(c <-chan struct{}) {
			<-c
			once.Do(func() { close(done) })
		}(c)
	}
	return done
}

// Err 返回第一个因错误退出的角色循环的错误
func (n *Node) Err() error {
	if n.resolver != nil {
		if err := n.resolver.Err(); err != nil {
			return err
		}
	}
	if n.rendezvous != nil {
		if err := n.rendezvous.Err(); err != nil {
			return err
		}
	}
	if n.agent != nil {
		if err := n.agent.Err(); err != nil {
			return err
		}
	}
	if n.echo != nil {
		return n.echo.Err()
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件访问
// ════════════════════════════════════════════════════════════════════════════

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Roles 返回启用的角色（包含隐含角色）
func (n *Node) Roles() []Role {
	return append([]Role(nil), n.roles...)
}

// Config 返回统一配置
func (n *Node) Config() *config.Config {
	return n.config
}

// Resolver 返回解析服务，未启用时返回 nil
func (n *Node) Resolver() *resolver.Service {
	return n.resolver
}

// Rendezvous 返回 Rendezvous 点，未启用时返回 nil
func (n *Node) Rendezvous() *rendezvous.Service {
	return n.rendezvous
}

// Agent 返回移动代理，未启用时返回 nil
func (n *Node) Agent() *agent.Agent {
	return n.agent
}

// Echo 返回回显应用，未启用时返回 nil
func (n *Node) Echo() *echo.App {
	return n.echo
}

// Metrics 返回指标收集器，指标关闭时返回 nil
func (n *Node) Metrics() *metrics.Collector {
	return n.collector
}
