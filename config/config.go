// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Overlay.HopLength = 4
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 是覆盖网络节点的完整配置结构
//
// 该结构体嵌入了所有组件的子配置，按照功能模块组织：
//   - Identity: 身份和密钥管理
//   - Transport: 传输层（QUIC，spec §6）
//   - Discovery: 引导种子路由器
//   - Storage: 持久化存储（Node DB / Introset Store）
//   - Overlay: 覆盖网络节点本身的运行参数（spec §4-§6）
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Discovery 节点发现（种子路由器引导）配置
	Discovery DiscoveryConfig `json:"discovery"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Overlay 覆盖网络节点运行参数
	Overlay OverlayConfig `json:"overlay"`

	// LogFile 日志文件路径，为空时日志输出到标准错误
	LogFile string `json:"log_file,omitempty"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		Discovery: DefaultDiscoveryConfig(),
		Storage:   DefaultStorageConfig(),
		Overlay:   DefaultOverlayConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，如果发现无效配置则返回错误。
// 建议在使用配置前调用此方法。
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Overlay.Validate(); err != nil {
		return err
	}
	return nil
}
