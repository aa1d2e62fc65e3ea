package rendezvous

import (
	"errors"
	"time"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// Config Rendezvous 服务配置
type Config struct {
	// ListenAddr 监听主机
	ListenAddr string

	// RegistrationPort 注册端口，0 表示由系统分配
	RegistrationPort int

	// LookupPort 查询/订阅端口，0 表示由系统分配
	LookupPort int

	// PollInterval 两个监听器都没有数据时的等待时间
	PollInterval time.Duration

	// RateLimit 每个监听器每秒接受的请求数，0 表示不限制
	RateLimit float64

	// RateBurst 突发请求数
	RateBurst int

	// HostLookup 订阅者反向解析
	HostLookup HostLookupConfig
}

// HostLookupConfig 反向解析配置
type HostLookupConfig struct {
	// Server DNS 服务器 host:port，空表示使用系统解析器
	Server string

	// Timeout 单次查询超时
	Timeout time.Duration

	// CacheSize 缓存条目数，0 表示不缓存
	CacheSize int

	// CacheTTL 缓存有效期
	CacheTTL time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "0.0.0.0",
		RegistrationPort: protocol.DefaultRegistrationPort,
		LookupPort:       protocol.DefaultLookupPort,
		PollInterval:     500 * time.Microsecond,
		RateBurst:        64,
		HostLookup: HostLookupConfig{
			Timeout:   addrcodec.DefaultLookupTimeout,
			CacheSize: 1024,
			CacheTTL:  5 * time.Minute,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.RegistrationPort < 0 || c.RegistrationPort > 65535 || c.LookupPort < 0 || c.LookupPort > 65535 {
		return errors.New("port out of range")
	}
	if c.RegistrationPort != 0 && c.RegistrationPort == c.LookupPort {
		return errors.New("registration and lookup ports must differ")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// ConfigFromUnified 从统一配置创建 Rendezvous 配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	r := cfg.Rendezvous
	return Config{
		ListenAddr:       r.ListenAddr,
		RegistrationPort: r.RegistrationPort,
		LookupPort:       r.LookupPort,
		PollInterval:     r.PollInterval.Duration(),
		RateLimit:        r.RateLimit,
		RateBurst:        r.RateBurst,
		HostLookup: HostLookupConfig{
			Server:    cfg.HostLookup.Server,
			Timeout:   cfg.HostLookup.Timeout.Duration(),
			CacheSize: cfg.HostLookup.CacheSize,
			CacheTTL:  cfg.HostLookup.CacheTTL.Duration(),
		},
	}
}

// NewHostResolver 按配置创建反向解析器
func NewHostResolver(c HostLookupConfig) addrcodec.HostResolver {
	var r addrcodec.HostResolver
	if c.Server != "" {
		r = addrcodec.NewDNSResolver(c.Server, c.Timeout)
	} else {
		r = addrcodec.NewSystemResolver()
	}
	if c.CacheSize > 0 {
		r = addrcodec.NewCachingResolver(r, c.CacheSize, c.CacheTTL)
	}
	return r
}
