package config

import (
	"errors"
	"time"

	overlaytransport "github.com/dr7ana/lokinet/internal/overlay/transport"
)

// TransportConfig 传输层配置
//
// overlay 节点只有一种传输：QUIC（spec §6 的抽象
// connect/accept/send_control/open_stream 契约直接基于 quic-go 实现，
// 见 internal/overlay/transport）；没有 TCP/WebSocket 后备传输。
type TransportConfig struct {
	QUIC QUICConfig `json:"quic"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`
}

// QUICConfig QUIC 传输配置，字段与 internal/overlay/transport.Config
// 一一对应。
type QUICConfig struct {
	// MaxIdleTimeout 最大空闲超时
	MaxIdleTimeout Duration `json:"max_idle_timeout"`

	// KeepAlivePeriod KeepAlive 周期
	KeepAlivePeriod Duration `json:"keep_alive_period"`

	// MaxIncomingStreams 最大并发双向流数量
	MaxIncomingStreams int64 `json:"max_incoming_streams"`

	// MaxIncomingUniStreams 最大并发单向流数量
	MaxIncomingUniStreams int64 `json:"max_incoming_uni_streams"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		QUIC: QUICConfig{
			MaxIdleTimeout:        Duration(30 * time.Second),
			KeepAlivePeriod:       Duration(10 * time.Second),
			MaxIncomingStreams:    256,
			MaxIncomingUniStreams: 16,
		},
		DialTimeout: Duration(30 * time.Second),
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if c.QUIC.MaxIdleTimeout <= 0 {
		return errors.New("QUIC max idle timeout must be positive")
	}
	if c.QUIC.KeepAlivePeriod <= 0 {
		return errors.New("QUIC keep alive period must be positive")
	}
	if c.QUIC.MaxIncomingStreams <= 0 {
		return errors.New("QUIC max incoming streams must be positive")
	}
	if c.QUIC.MaxIncomingUniStreams <= 0 {
		return errors.New("QUIC max incoming uni streams must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	return nil
}

// WithDialTimeout 设置拨号超时
func (c TransportConfig) WithDialTimeout(timeout time.Duration) TransportConfig {
	c.DialTimeout = Duration(timeout)
	return c
}

// ToTransportConfig 把 QUICConfig 转换为 internal/overlay/transport.Config，
// 供路由器装配调用 transport.NewWithConfig。
func (c QUICConfig) ToTransportConfig() overlaytransport.Config {
	return overlaytransport.Config{
		MaxIdleTimeout:        time.Duration(c.MaxIdleTimeout),
		KeepAlivePeriod:       time.Duration(c.KeepAlivePeriod),
		MaxIncomingStreams:    c.MaxIncomingStreams,
		MaxIncomingUniStreams: c.MaxIncomingUniStreams,
	}
}
