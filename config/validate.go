package config

import (
	"errors"
	"fmt"
)

// ValidateAll 验证整个配置的有效性
//
// 这是 Config.Validate() 的别名，提供更明确的语义。
// 它会递归验证所有子配置。
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 可修复的问题：
//   - Overlay.TargetPaths <= 0 -> 改用默认值
//   - Overlay.HopLength <= 0 -> 改用默认值
//
// 其余字段只做校验，不做修改；引导种子路由器列表为空时不注入任何种子。
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	if c.Overlay.TargetPaths <= 0 {
		c.Overlay.TargetPaths = DefaultOverlayConfig().TargetPaths
	}
	if c.Overlay.HopLength <= 0 {
		c.Overlay.HopLength = DefaultOverlayConfig().HopLength
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}

	return c, nil
}

// ValidateSubConfig 验证特定子配置
//
// 用于单独验证某个子配置而不验证整个配置树。
type ValidateSubConfig interface {
	Validate() error
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
// 生产代码应使用 Validate() 并处理错误。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}
}
