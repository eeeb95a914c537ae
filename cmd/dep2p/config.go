package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/dr7ana/lokinet/config"
)

// envPrefix 所有环境变量覆盖都使用这个前缀，与命令行参数同名。
const envPrefix = "DEP2P_"

// loadConfigFile 从 JSON 文件加载配置，未出现的字段保留默认值。
func loadConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖配置，优先级低于命令行参数。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + "IDENTITY_KEY_FILE"); v != "" {
		cfg.Identity.KeyFile = v
	}
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envPrefix + "LISTEN_ADDR"); v != "" {
		cfg.Overlay.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + "BOOTSTRAP_PEERS"); v != "" {
		cfg.Discovery.Bootstrap.Peers = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + "TESTNET"); v != "" {
		cfg.Overlay.Testnet = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
