package permip

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/internal/app/echo"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/internal/rendezvous"
	"github.com/dep2p/go-permip/internal/resolver"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序：
//  1. 配置注入、生命周期信号组、指标
//  2. 按角色加载 resolver / rendezvous / agent / echo
//  3. 用户扩展
//  4. Node 组件注入
func buildFxApp(o *options, node *Node, roles roleSet) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.config),
		lifecycle.Module(),
		metrics.Module,
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 角色模块
	// ════════════════════════════════════════════════════════════════════════
	if roles[RoleResolver] {
		modules = append(modules, resolver.Module)
	}
	if roles[RoleRendezvous] {
		modules = append(modules, rendezvous.Module)
	}
	if roles[RoleAgent] {
		if o.clock != nil {
			modules = append(modules, fx.Supply(fx.Annotate(o.clock, fx.As(new(clock.Clock)))))
		}
		modules = append(modules, agent.Module)
	}
	if roles[RoleEcho] {
		if o.echoEvents != nil {
			handler := o.echoEvents
			modules = append(modules, fx.Provide(func() echo.EventHandler { return handler }))
		}
		modules = append(modules, echo.Module)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 用户扩展
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, o.fxOptions...)

	// ════════════════════════════════════════════════════════════════════════
	// 4. Node 组件注入与 Fx 日志
	// ════════════════════════════════════════════════════════════════════════
	fxLogger := o.fxLogger
	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: fxLogger.With(zap.String("component", "fx"))}
		}),
	)

	return fx.New(modules...), nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Group     *lifecycle.Group   `optional:"true"`
	Collector *metrics.Collector `optional:"true"`

	Resolver   *resolver.Service   `optional:"true"`
	Rendezvous *rendezvous.Service `optional:"true"`
	Agent      *agent.Agent        `optional:"true"`
	Echo       *echo.App           `optional:"true"`
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(p nodeInjectParams) {
		node.group = p.Group
		node.collector = p.Collector
		node.resolver = p.Resolver
		node.rendezvous = p.Rendezvous
		node.agent = p.Agent
		node.echo = p.Echo
	}
}
