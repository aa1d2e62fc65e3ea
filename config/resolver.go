package config

import (
	"errors"
	"fmt"
	"time"
)

// ResolverConfig 名称解析服务配置
type ResolverConfig struct {
	// ListenAddr 监听主机，默认所有接口
	ListenAddr string `yaml:"listen_addr"`

	// Port 监听端口
	Port int `yaml:"port"`

	// PollInterval 无数据时的轮询间隔
	PollInterval Duration `yaml:"poll_interval"`

	// Names 静态名称表: 逻辑名 -> Rendezvous 点地址
	Names map[string]string `yaml:"names,omitempty"`

	// SeedFile YAML 名称表文件
	SeedFile string `yaml:"seed_file,omitempty"`

	// WatchSeedFile 文件变化时重新加载
	WatchSeedFile bool `yaml:"watch_seed_file"`

	// SeedDemoNames 预置演示名称 python/tick
	SeedDemoNames bool `yaml:"seed_demo_names"`

	// RateLimit 每秒接受的请求数，0 表示不限制
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst 突发请求数
	RateBurst int `yaml:"rate_burst"`
}

// DefaultResolverConfig 返回默认解析服务配置
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		ListenAddr:   "0.0.0.0",
		Port:         16000,
		PollInterval: Duration(500 * time.Microsecond),
		RateBurst:    64,
	}
}

// Validate 验证解析服务配置
func (c ResolverConfig) Validate() error {
	if err := validatePort("resolver", c.Port); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return errors.New("resolver: poll interval must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("resolver: rate limit must be non-negative")
	}
	if c.WatchSeedFile && c.SeedFile == "" {
		return errors.New("resolver: watch_seed_file requires seed_file")
	}
	return nil
}

func validatePort(section string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s: port %d out of range", section, port)
	}
	return nil
}
