package config

import (
	"errors"
	"time"
)

// OverlayConfig 覆盖网络节点配置（spec §4-§6）
//
// 对应 internal/overlay 的各组件参数：DHT 清理节奏、路径控制 RPC 超时、
// 路径建造目标、跳数、按 IP 限速窗口，以及测试网开关。
type OverlayConfig struct {
	// CleanupInterval 是 DHT 清理 tick 间隔的配置项（expired RC / ISet
	// 回收，spec §4.E）。路由器不读取此字段：DHT Message Handler 固定
	// 每 1 秒清理一次。
	CleanupInterval Duration `json:"cleanup_interval"`

	// TXTimeout 由路由器作为 remote.Config.Timeout 传入，即单次路径控制
	// RPC 的超时。DHT 待决事务表（FindRouter/FindIntroSet/...）不读取
	// 此字段，其默认超时固定为 2 秒。
	TXTimeout Duration `json:"tx_timeout"`

	// TargetPaths 是 Path Handler 维持的就绪路径目标条数（spec §4.H）。
	TargetPaths int `json:"target_paths"`

	// HopLength 是每条路径的跳数（spec §4.H "hop length N"）。
	HopLength int `json:"hop_length"`

	// PerIPBuildWindow 是按源 IP 限制建路频率的窗口配置项（spec §4.G）。
	// 路由器不读取此字段：pathctx 固定使用 500 毫秒窗口，Testnet 为 true
	// 时不做该检查。
	PerIPBuildWindow Duration `json:"per_ip_build_window"`

	// Testnet 为 true 时禁用按 IP 建路限速（spec §6 "Environment"）。
	Testnet bool `json:"testnet"`

	// ListenAddr 是覆盖网络传输层监听地址（"host:port"）。
	ListenAddr string `json:"listen_addr"`
}

// DefaultOverlayConfig 返回默认覆盖网络配置
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		CleanupInterval:  Duration(1 * time.Second),
		TXTimeout:        Duration(5 * time.Second),
		TargetPaths:      4,
		HopLength:        3,
		PerIPBuildWindow: Duration(1 * time.Minute),
		Testnet:          false,
		ListenAddr:       "0.0.0.0:1090",
	}
}

// Validate 验证覆盖网络配置
func (c OverlayConfig) Validate() error {
	if c.CleanupInterval <= 0 {
		return errors.New("overlay cleanup interval must be positive")
	}
	if c.TXTimeout <= 0 {
		return errors.New("overlay tx timeout must be positive")
	}
	if c.TargetPaths <= 0 {
		return errors.New("overlay target paths must be positive")
	}
	if c.HopLength <= 0 {
		return errors.New("overlay hop length must be positive")
	}
	if c.PerIPBuildWindow <= 0 {
		return errors.New("overlay per-IP build window must be positive")
	}
	if c.ListenAddr == "" {
		return errors.New("overlay listen addr must not be empty")
	}
	return nil
}

// WithListenAddr 设置监听地址
func (c OverlayConfig) WithListenAddr(addr string) OverlayConfig {
	c.ListenAddr = addr
	return c
}

// WithTestnet 设置测试网开关
func (c OverlayConfig) WithTestnet(testnet bool) OverlayConfig {
	c.Testnet = testnet
	return c
}
