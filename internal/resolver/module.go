package resolver

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/core/lifecycle"
	"github.com/dep2p/go-permip/internal/core/metrics"
)

// Module 解析服务模块
var Module = fx.Module("resolver",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params 解析服务依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config   `optional:"true"`
	Metrics    metrics.Reporter `optional:"true"`
}

// NewFromParams 从 Fx 参数创建解析服务
func NewFromParams(p Params) (*Service, error) {
	return NewService(ConfigFromUnified(p.UnifiedCfg), WithMetrics(p.Metrics))
}

type lifecycleParams struct {
	fx.In

	LC      fx.Lifecycle
	Service *Service
	Group   *lifecycle.Group `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	if p.Group != nil {
		p.Group.Add(p.Service.StopSignal())
	}
	p.LC.Append(fx.Hook{
		OnStart: p.Service.Start,
		OnStop: func(_ context.Context) error {
			return p.Service.Stop()
		},
	})
}
