package router

import (
	"context"

	"go.uber.org/fx"
)

// Module 返回装配覆盖网络节点的 fx.Module，与 internal/core 各子系统自己的
// fx.Module 同构：fx.Provide 构造 *Router，fx.Invoke 把它的 Start/Close 挂到
// fx 的生命周期钩子上（spec §6 configure/setup/run/close_async）。
func Module() fx.Option {
	return fx.Module("overlay",
		fx.Provide(New),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, r *Router) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return r.Close(ctx)
		},
	})
}
