// Package app 提供覆盖网络节点的应用编排层
//
// app 包负责：
// - fx 模块组装
// - 依赖注入协调
// - 生命周期管理
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/dr7ana/lokinet/config"
	"github.com/dr7ana/lokinet/internal/overlay/router"
	"github.com/dr7ana/lokinet/pkg/lib/log"
)

// Bootstrap 应用引导程序
//
// Bootstrap 负责：
// - 持有配置
// - 组装覆盖网络的 fx 模块图（router.Module）
// - 管理应用生命周期（spec §6 configure/setup/run/close_async）
type Bootstrap struct {
	config *config.Config
	opts   BuildOptions
	fxApp  *fx.App
	router *router.Router
	debug  *debugServer
}

// NewBootstrap 创建引导程序
func NewBootstrap(cfg *config.Config, opts ...BootstrapOption) *Bootstrap {
	b := &Bootstrap{
		config: cfg,
		opts:   DefaultBuildOptions(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 构建并启动覆盖网络节点：fx 应用启动时，OnStart 钩子经
// router.Router.Start 开始网络监听并安排周期性 tick。
func (b *Bootstrap) Build() (*router.Router, error) {
	if err := b.setupLogging(); err != nil {
		return nil, fmt.Errorf("设置日志失败: %w", err)
	}

	b.fxApp = fx.New(
		fx.Supply(b.config),
		router.Module(),
		fx.NopLogger,
		fx.Populate(&b.router),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(b.opts.StartTimeout)*time.Second)
	defer cancel()

	if err := b.fxApp.Start(ctx); err != nil {
		return nil, fmt.Errorf("启动应用失败: %w", err)
	}

	if b.opts.EnablePprof {
		dbg, err := startDebugServer()
		if err != nil {
			log.Logger("app/bootstrap").Warn("启动 pprof 调试服务失败", "err", err)
		} else {
			b.debug = dbg
		}
	}

	return b.router, nil
}

// Start 构建并启动覆盖网络节点。router.Router.Start 已经在 fx OnStart
// 钩子里被调用，这里只是 Build 的同义封装，供 cmd 层以一个更直白的
// 名字驱动 spec §6 的 "run" 阶段。
func (b *Bootstrap) Start(ctx context.Context) (*router.Router, error) {
	return b.Build()
}

// Stop 停止应用，触发 fx OnStop（router.Router.Close）。
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.fxApp == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Duration(b.opts.StopTimeout)*time.Second)
	defer cancel()

	if b.debug != nil {
		_ = b.debug.Stop(stopCtx)
	}

	return b.fxApp.Stop(stopCtx)
}

// setupLogging 配置日志输出
//
// 如果指定了 LogFile，将所有日志重定向到文件。
func (b *Bootstrap) setupLogging() error {
	if b.config.LogFile == "" {
		return nil
	}

	file, err := os.OpenFile(b.config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	log.SetOutput(file)
	logger := log.Logger("app/bootstrap")
	logger.Info("日志文件初始化成功", "path", b.config.LogFile)

	return nil
}
