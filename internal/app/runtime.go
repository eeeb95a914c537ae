package app

import (
	"context"

	"github.com/dr7ana/lokinet/internal/overlay/router"
)

// Runtime 表示一个已通过 fx 组装完成的覆盖网络运行时。
type Runtime struct {
	Router *router.Router

	stop func(ctx context.Context) error
}

// Stop 停止运行时（触发 fx 生命周期 OnStop）。
func (r *Runtime) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}
