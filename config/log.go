package config

import (
	"fmt"
	"strings"
)

// LogConfig 日志配置
//
// 与环境变量 PERMIP_LOG_LEVEL / PERMIP_LOG_FORMAT 含义相同，
// 非空时覆盖环境变量。
type LogConfig struct {
	// Level 级别描述，格式: 子系统=级别,...,默认级别
	Level string `yaml:"level"`

	// Format 输出格式: text 或 json
	Format string `yaml:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("log: unknown format %q", c.Format)
	}
}
