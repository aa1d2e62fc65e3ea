package resolver

import (
	"errors"
	"time"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// Config 解析服务配置
type Config struct {
	// ListenAddr 监听主机
	ListenAddr string

	// Port 监听端口，0 表示由系统分配
	Port int

	// PollInterval 无数据时的轮询间隔
	PollInterval time.Duration

	// RateLimit 每秒接受的请求数，0 表示不限制
	RateLimit float64

	// RateBurst 突发请求数
	RateBurst int

	// Names 启动时加载的静态名称
	Names map[string]string

	// SeedFile 名称表文件
	SeedFile string

	// WatchSeedFile 文件变化时重新加载
	WatchSeedFile bool

	// SeedDemoNames 预置演示名称
	SeedDemoNames bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "0.0.0.0",
		Port:         protocol.DefaultResolverPort,
		PollInterval: 500 * time.Microsecond,
		RateBurst:    64,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.WatchSeedFile && c.SeedFile == "" {
		return errors.New("watching requires a seed file")
	}
	return nil
}

// ConfigFromUnified 从统一配置创建解析服务配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	r := cfg.Resolver
	return Config{
		ListenAddr:    r.ListenAddr,
		Port:          r.Port,
		PollInterval:  r.PollInterval.Duration(),
		RateLimit:     r.RateLimit,
		RateBurst:     r.RateBurst,
		Names:         r.Names,
		SeedFile:      r.SeedFile,
		WatchSeedFile: r.WatchSeedFile,
		SeedDemoNames: r.SeedDemoNames,
	}
}
