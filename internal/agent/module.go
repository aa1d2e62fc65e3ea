package agent

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
	"github.com/dep2p/go-permip/pkg/addrcodec"
)

// Module 移动代理模块
var Module = fx.Module("agent",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 移动代理依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config             `optional:"true"`
	Metrics    metrics.Reporter           `optional:"true"`
	Clock      clock.Clock                `optional:"true"`
	LocalAddr  addrcodec.LocalAddressFunc `optional:"true"`
}

// NewFromParams 从 Fx 参数创建移动代理
func NewFromParams(p Params) (*Agent, error) {
	return New(ConfigFromUnified(p.UnifiedCfg),
		WithMetrics(p.Metrics),
		WithClock(p.Clock),
		WithLocalAddressFunc(p.LocalAddr),
	)
}

type lifecycleParams struct {
	fx.In

	LC    fx.Lifecycle
	Agent *Agent
	Group *lifecycle.Group `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	if p.Group != nil {
		p.Group.Add(p.Agent.StopSignal())
	}
	p.LC.Append(fx.Hook{
		OnStart: p.Agent.Start,
		OnStop: func(_ context.Context) error {
			return p.Agent.Stop()
		},
	})
}
