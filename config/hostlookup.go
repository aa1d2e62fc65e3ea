package config

import (
	"errors"
	"time"
)

// HostLookupConfig 反向解析配置
//
// Rendezvous 服务用它把订阅者地址解析为主机名。
type HostLookupConfig struct {
	// Server DNS 服务器 host:port，空表示使用系统解析器
	Server string `yaml:"server,omitempty"`

	// Timeout 单次查询超时
	Timeout Duration `yaml:"timeout"`

	// CacheSize 缓存条目数，0 表示不缓存
	CacheSize int `yaml:"cache_size"`

	// CacheTTL 缓存有效期
	CacheTTL Duration `yaml:"cache_ttl"`
}

// DefaultHostLookupConfig 返回默认反向解析配置
func DefaultHostLookupConfig() HostLookupConfig {
	return HostLookupConfig{
		Timeout:   Duration(2 * time.Second),
		CacheSize: 1024,
		CacheTTL:  Duration(5 * time.Minute),
	}
}

// Validate 验证反向解析配置
func (c HostLookupConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("host_lookup: timeout must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("host_lookup: cache size must be non-negative")
	}
	if c.CacheSize > 0 && c.CacheTTL <= 0 {
		return errors.New("host_lookup: cache ttl must be positive when caching")
	}
	return nil
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`

	// ListenAddr /metrics HTTP 监听地址，空表示不暴露
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if !c.Enabled && c.ListenAddr != "" {
		return errors.New("metrics: listen_addr set but metrics disabled")
	}
	return nil
}
