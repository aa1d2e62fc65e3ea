// Package logger 提供统一的日志接口
//
// 支持通过环境变量配置日志级别：
//   - PERMIP_LOG_LEVEL: 设置日志级别，支持按子系统配置
//     格式: 子系统=级别,子系统=级别,默认级别
//     示例: rendezvous=debug,agent=warn,info
//   - PERMIP_LOG_FORMAT: 日志格式 (text 或 json)
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// SubsystemLevels 各子系统的日志级别
	SubsystemLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat

	// AddSource 是否添加源码位置
	AddSource bool
}

// LevelForSubsystem 获取指定子系统的日志级别
//
// 子系统名按 "." 逐级回退匹配，例如 "rendezvous.store" 未配置时使用 "rendezvous" 的级别。
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	for name := subsystem; name != ""; {
		if level, ok := c.SubsystemLevels[name]; ok {
			return level
		}
		idx := strings.LastIndexByte(name, '.')
		if idx < 0 {
			break
		}
		name = name[:idx]
	}
	return c.DefaultLevel
}

var (
	configCache *Config
	configMu    sync.Mutex
)

// ConfigFromEnv 从环境变量解析配置
//
// 环境变量:
//   - PERMIP_LOG_LEVEL: 日志级别配置
//   - PERMIP_LOG_FORMAT: text 或 json
//   - PERMIP_LOG_ADD_SOURCE: true 或 false
func ConfigFromEnv() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	if configCache == nil {
		configCache = parseConfig(os.Getenv("PERMIP_LOG_LEVEL"), os.Getenv("PERMIP_LOG_FORMAT"))
		if s := os.Getenv("PERMIP_LOG_ADD_SOURCE"); s != "" {
			configCache.AddSource = s != "false" && s != "0"
		}
	}
	return configCache
}

// Apply 使用给定的级别描述和格式覆盖当前配置
//
// 已创建的子系统 Logger 会立即按新级别过滤；格式只对之后创建的 Logger 生效。
// levelSpec 与 PERMIP_LOG_LEVEL 格式相同，空字符串表示不修改级别。
func Apply(levelSpec, format string) {
	cfg := ConfigFromEnv()

	configMu.Lock()
	if levelSpec != "" {
		next := parseConfig(levelSpec, "")
		cfg.DefaultLevel = next.DefaultLevel
		for k, v := range next.SubsystemLevels {
			cfg.SubsystemLevels[k] = v
		}
	}
	if format != "" {
		cfg.Format = parseFormat(format)
	}
	configMu.Unlock()

	handlers.Range(func(key, value any) bool {
		value.(*subsystemHandler).SetLevel(cfg.LevelForSubsystem(key.(string)))
		return true
	})
}

// parseConfig 解析级别与格式
func parseConfig(levelStr, formatStr string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          parseFormat(formatStr),
		AddSource:       false,
	}

	// 格式: subsystem=level,subsystem=level,defaultLevel
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if subsystem, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(strings.TrimSpace(levelName)); ok {
				cfg.SubsystemLevels[strings.TrimSpace(subsystem)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}

	return cfg
}

func parseFormat(s string) LogFormat {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// parseLevel 解析日志级别名称
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig 重置配置缓存（仅用于测试）
func ResetConfig() {
	configMu.Lock()
	configCache = nil
	configMu.Unlock()
}
