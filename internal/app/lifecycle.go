package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dr7ana/lokinet/internal/overlay/router"
)

// App 覆盖网络节点的应用接口
//
// App 提供应用级别的生命周期管理，对应 spec §6 的
// configure/setup/run/close_async/handle_signal。
type App interface {
	// Router 返回已装配并启动的覆盖网络节点
	Router() *router.Router

	// Wait 等待应用收到退出信号（SIGINT/SIGTERM）
	Wait()

	// Stop 停止应用（close_async）
	Stop() error
}

// internalApp App 的内部实现
type internalApp struct {
	bootstrap *Bootstrap
	router    *router.Router
	stopOnce  sync.Once
	stopped   chan struct{}
}

// RunApp 运行覆盖网络节点应用
//
// 这是一个便捷函数：构建并启动节点（configure + setup + run）后立即返回。
// 它不等待退出信号，也不关闭节点；调用方通过返回的 App 的 Wait/Stop
// 完成等待与优雅关闭（close_async）。
//
// 示例:
//
//	app, err := app.RunApp(ctx, bootstrap)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app.Wait()
func RunApp(ctx context.Context, bootstrap *Bootstrap) (App, error) {
	r, err := bootstrap.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("启动应用失败: %w", err)
	}

	app := &internalApp{
		bootstrap: bootstrap,
		router:    r,
		stopped:   make(chan struct{}),
	}

	return app, nil
}

// Router 返回底层的覆盖网络节点
func (a *internalApp) Router() *router.Router {
	return a.router
}

// Wait 等待应用收到退出信号
func (a *internalApp) Wait() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		fmt.Printf("收到信号 %v，正在退出...\n", sig)
	case <-a.stopped:
		return
	}

	// 停止应用
	_ = a.Stop()
}

// Stop 停止应用。实际的路由器关闭（存储引擎、传输层）由
// bootstrap.Stop 触发的 fx OnStop 钩子完成（见 router.Module）。
func (a *internalApp) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		close(a.stopped)

		if a.bootstrap != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if stopErr := a.bootstrap.Stop(ctx); stopErr != nil {
				err = fmt.Errorf("停止 bootstrap 失败: %w", stopErr)
			}
		}
	})
	return err
}

// ============================================================================
//                              生命周期钩子
// ============================================================================

// LifecycleHook 生命周期钩子
type LifecycleHook struct {
	// OnStart 启动时调用
	OnStart func(context.Context) error

	// OnStop 停止时调用
	OnStop func(context.Context) error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	hooks []LifecycleHook
	mu    sync.Mutex
}

// NewLifecycleManager 创建生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// AddHook 添加生命周期钩子
func (m *LifecycleManager) AddHook(hook LifecycleHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Start 执行所有启动钩子
func (m *LifecycleManager) Start(ctx context.Context) error {
	m.mu.Lock()
	hooks := make([]LifecycleHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for i, hook := range hooks {
		if hook.OnStart != nil {
			if err := hook.OnStart(ctx); err != nil {
				// 回滚已启动的钩子
				for j := i - 1; j >= 0; j-- {
					if hooks[j].OnStop != nil {
						_ = hooks[j].OnStop(ctx)
					}
				}
				return fmt.Errorf("启动钩子 %d 失败: %w", i, err)
			}
		}
	}
	return nil
}

// Stop 执行所有停止钩子（逆序）
func (m *LifecycleManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	hooks := make([]LifecycleHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if hooks[i].OnStop != nil {
			if err := hooks[i].OnStop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("停止钩子 %d 失败: %w", i, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("停止钩子失败: %v", errs)
	}
	return nil
}

