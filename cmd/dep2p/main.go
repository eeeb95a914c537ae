// Package main 提供覆盖网络节点的命令行入口。
//
// 生命周期严格对应外层 shell 驱动的契约：configure(config) → setup(opts)
// → run() → close_async()，信号通过 handle_signal(sig) 处理
// （INT/TERM 停止路由器，HUP 预留为配置重载占位，目前是空操作）。
// 退出码：0 表示正常停止，1 表示未配置即调用 run，2 表示路由器启动失败。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dr7ana/lokinet/config"
	"github.com/dr7ana/lokinet/internal/app"
	"github.com/dr7ana/lokinet/internal/overlay/router"
	"github.com/dr7ana/lokinet/pkg/lib/log"
)

// Version 在发布构建时通过 -ldflags 注入，默认值用于开发构建。
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

var logger = log.Logger("dep2p/cmd")

var (
	configFile     = flag.String("config", "", "配置文件路径（JSON）")
	identityFile   = flag.String("identity", "", "身份密钥文件路径")
	dataDir        = flag.String("data-dir", "", "数据目录（默认: ./data）")
	listenAddr     = flag.String("listen-addr", "", "覆盖网络监听地址（host:port）")
	bootstrapPeers = flag.String("bootstrap", "", "种子路由器地址列表（逗号分隔）")
	testnet        = flag.Bool("testnet", false, "启用测试网参数")
	logFile        = flag.String("log", "", "日志文件路径")

	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	os.Exit(run())
}

// run 实现 configure/setup/run/close_async/handle_signal 生命周期，
// 返回进程退出码。
func run() int {
	flag.Parse()

	if *showVersion {
		printVersion()
		return 0
	}
	if *showHelp {
		printHelp()
		return 0
	}

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		return 1
	}

	node := &nodeLifecycle{}

	if err := node.configure(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		return 1
	}

	if err := node.setup(); err != nil {
		fmt.Fprintf(os.Stderr, "设置失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "路由器启动失败: %v\n", err)
		return 2
	}

	printNodeInfo(cfg, node.router())
	fmt.Println("节点已启动，按 Ctrl+C 退出")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if stop := node.handleSignal(ctx, sig); stop {
			break
		}
	}

	fmt.Println("\n正在关闭节点...")
	return 0
}

// buildConfig 按 配置文件 < 环境变量 < 命令行参数 的优先级装配配置。
func buildConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = loadConfigFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	} else {
		cfg = config.NewConfig()
	}

	applyEnvOverrides(cfg)

	if isFlagSet("identity") {
		cfg.Identity.KeyFile = *identityFile
	}
	if isFlagSet("data-dir") {
		cfg.Storage.DataDir = *dataDir
	}
	if isFlagSet("listen-addr") {
		cfg.Overlay.ListenAddr = *listenAddr
	}
	if isFlagSet("bootstrap") {
		cfg.Discovery.Bootstrap.Peers = splitAndTrim(*bootstrapPeers, ",")
	}
	if isFlagSet("testnet") {
		cfg.Overlay.Testnet = *testnet
	}
	if isFlagSet("log") {
		cfg.LogFile = *logFile
	}

	fixed, err := config.ValidateAndFix(cfg)
	if err != nil {
		return nil, err
	}
	return fixed, nil
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// nodeLifecycle 驱动一个覆盖网络节点走完 configure/setup/run/close_async，
// 对应外层 shell 期望的四个阶段。
type nodeLifecycle struct {
	cfg       *config.Config
	bootstrap *app.Bootstrap
	app       app.App
}

var errNotConfigured = fmt.Errorf("router: run called without configuration")

func (n *nodeLifecycle) configure(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configure: nil config")
	}
	n.cfg = cfg
	return nil
}

func (n *nodeLifecycle) setup() error {
	if n.cfg == nil {
		return errNotConfigured
	}
	n.bootstrap = app.NewBootstrap(n.cfg)
	return nil
}

func (n *nodeLifecycle) run(ctx context.Context) error {
	if n.cfg == nil || n.bootstrap == nil {
		return errNotConfigured
	}
	a, err := app.RunApp(ctx, n.bootstrap)
	if err != nil {
		return err
	}
	n.app = a
	logger.Info("启动覆盖网络节点", "version", Version, "commit", GitCommit)
	return nil
}

func (n *nodeLifecycle) closeAsync(ctx context.Context) error {
	if n.app == nil {
		return nil
	}
	return n.app.Stop()
}

// handleSignal 处理 INT/TERM/HUP，返回 true 表示应当结束信号循环。
func (n *nodeLifecycle) handleSignal(ctx context.Context, sig os.Signal) bool {
	switch sig {
	case syscall.SIGHUP:
		// 配置重载占位符：当前没有可热重载的参数。
		logger.Info("收到 SIGHUP，暂不支持配置重载")
		return false
	case syscall.SIGINT, syscall.SIGTERM:
		if err := n.closeAsync(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "关闭节点失败: %v\n", err)
		}
		return true
	default:
		return false
	}
}

func (n *nodeLifecycle) router() *router.Router {
	if n.app == nil {
		return nil
	}
	return n.app.Router()
}

func printNodeInfo(cfg *config.Config, r *router.Router) {
	fmt.Println()
	fmt.Println("========================================================================")
	fmt.Printf("  覆盖网络节点已启动 (%s)\n", Version)
	fmt.Println("------------------------------------------------------------------------")
	if r != nil {
		fmt.Printf("  Router ID: %s\n", r.Identity().ID())
	}
	fmt.Printf("  监听地址:   %s\n", cfg.Overlay.ListenAddr)
	fmt.Printf("  数据目录:   %s\n", cfg.Storage.DataDir)
	if len(cfg.Discovery.Bootstrap.Peers) > 0 {
		fmt.Printf("  种子路由器: %v\n", cfg.Discovery.Bootstrap.Peers)
	}
	fmt.Println("========================================================================")
	fmt.Println()
}

func printVersion() {
	fmt.Printf("dep2p %s\n", Version)
	if GitCommit != "" {
		fmt.Printf("  commit: %s\n", GitCommit)
	}
	if BuildDate != "" {
		fmt.Printf("  built:  %s\n", BuildDate)
	}
}

func printHelp() {
	fmt.Println("dep2p - 洋葱路由覆盖网络节点")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  dep2p [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量 (优先级低于命令行参数，高于配置文件):")
	fmt.Println("  DEP2P_IDENTITY_KEY_FILE  身份密钥文件路径")
	fmt.Println("  DEP2P_DATA_DIR           数据目录")
	fmt.Println("  DEP2P_LISTEN_ADDR        覆盖网络监听地址")
	fmt.Println("  DEP2P_BOOTSTRAP_PEERS    种子路由器地址（逗号分隔）")
	fmt.Println("  DEP2P_TESTNET            启用测试网参数 (true/false)")
	fmt.Println("  DEP2P_LOG_FILE           日志文件路径")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  dep2p -config node.json")
	fmt.Println("  dep2p -data-dir ./data/node1 -listen-addr 0.0.0.0:1090 -bootstrap seed1:1090,seed2:1090")
}
