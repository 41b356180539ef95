package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Default 返回带默认值的配置
func Default() *FlowConfig {
	cfg := &FlowConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// Load 加载配置文件
// 文件不存在时返回默认配置
func Load(path string) (*FlowConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析YAML配置、应用默认值并校验
func Parse(data []byte) (*FlowConfig, error) {
	var cfg FlowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}
