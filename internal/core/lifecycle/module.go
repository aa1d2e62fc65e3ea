package lifecycle

import (
	"context"

	"go.uber.org/fx"
)

// Module 返回 Fx 模块
//
// 提供进程级 Group。各服务模块把自己的 StopSignal 加入其中，
// fx 停止时统一发出停止请求。
func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(NewGroup),
		fx.Invoke(registerLifecycleHooks),
	)
}

// lifecycleHooksParams 生命周期钩子参数
type lifecycleHooksParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Group     *Group
}

// registerLifecycleHooks 注册生命周期钩子
func registerLifecycleHooks(params lifecycleHooksParams) {
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			params.Group.RequestStop("application stopping")
			return nil
		},
	})
}
