package echo

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/agent"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
)

// EventHandler 接收应用事件
type EventHandler func(Event)

// Module 回显应用模块，依赖 agent.Module
var Module = fx.Module("echo",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 回显应用依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Agent      *agent.Agent
	Events     EventHandler `optional:"true"`
	Clock      clock.Clock  `optional:"true"`
}

// NewFromParams 从 Fx 参数创建回显应用
func NewFromParams(p Params) (*App, error) {
	opts := []Option{WithClock(p.Clock)}
	if p.Events != nil {
		opts = append(opts, WithEventHandler(p.Events))
	}
	return New(ConfigFromUnified(p.UnifiedCfg), p.Agent, opts...)
}

type lifecycleParams struct {
	fx.In

	LC    fx.Lifecycle
	App   *App
	Group *lifecycle.Group `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	if p.Group != nil {
		p.Group.Add(p.App.StopSignal())
	}
	p.LC.Append(fx.Hook{
		OnStart: p.App.Start,
		OnStop: func(_ context.Context) error {
			return p.App.Stop()
		},
	})
}
