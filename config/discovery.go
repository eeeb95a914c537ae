package config

import (
	"errors"
	"time"
)

// DiscoveryConfig 节点发现配置
//
// overlay 节点的目录发现是 spec §4.C/§4.E 的 Node DB + DHT
// Message Handler，不是 libp2p 风格的 DHT/mDNS/Rendezvous/DNS
// 组合：引导只需要一份已知的种子路由器地址列表。
type DiscoveryConfig struct {
	// Bootstrap 种子路由器配置
	Bootstrap BootstrapConfig `json:"bootstrap"`
}

// BootstrapConfig 种子路由器配置
type BootstrapConfig struct {
	// Peers 种子路由器列表，每项是一条 "host:port" 地址
	// （对应 overlay/transport.Connect 的 addr 参数），用于在 Node DB
	// 为空时发起第一轮 exploratory lookup（spec §4.E "Scenario 5:
	// Bootstrap from seed nodes"）。
	Peers []string `json:"peers"`

	// MinPeers 低于此已知节点数时触发一轮引导查找
	MinPeers int `json:"min_peers"`

	// Interval 引导检查间隔
	Interval Duration `json:"interval"`

	// Timeout 单次引导连接超时
	Timeout Duration `json:"timeout"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Bootstrap: BootstrapConfig{
			// 默认为空，部署时通过配置文件或 known_peers 注入种子路由器。
			Peers:    []string{},
			MinPeers: 4,
			Interval: Duration(5 * time.Minute),
			Timeout:  Duration(30 * time.Second),
		},
	}
}

// Validate 验证发现配置
func (c DiscoveryConfig) Validate() error {
	if c.Bootstrap.MinPeers < 0 {
		return errors.New("bootstrap min peers must be non-negative")
	}
	if c.Bootstrap.Interval <= 0 {
		return errors.New("bootstrap interval must be positive")
	}
	if c.Bootstrap.Timeout <= 0 {
		return errors.New("bootstrap timeout must be positive")
	}
	return nil
}

// WithBootstrapPeers 设置种子路由器列表
func (c DiscoveryConfig) WithBootstrapPeers(peers []string) DiscoveryConfig {
	c.Bootstrap.Peers = peers
	return c
}
