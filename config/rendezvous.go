package config

import (
	"errors"
	"time"
)

// RendezvousConfig Rendezvous 服务配置
type RendezvousConfig struct {
	// ListenAddr 监听主机，默认所有接口
	ListenAddr string `yaml:"listen_addr"`

	// RegistrationPort 注册端口
	RegistrationPort int `yaml:"registration_port"`

	// LookupPort 查询/订阅端口
	LookupPort int `yaml:"lookup_port"`

	// PollInterval 两个监听器都没有数据时的轮询间隔
	PollInterval Duration `yaml:"poll_interval"`

	// RateLimit 每个监听器每秒接受的请求数，0 表示不限制
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst 突发请求数
	RateBurst int `yaml:"rate_burst"`
}

// DefaultRendezvousConfig 返回默认 Rendezvous 配置
func DefaultRendezvousConfig() RendezvousConfig {
	return RendezvousConfig{
		ListenAddr:       "0.0.0.0",
		RegistrationPort: 16001,
		LookupPort:       16000,
		PollInterval:     Duration(500 * time.Microsecond),
		RateBurst:        64,
	}
}

// Validate 验证 Rendezvous 配置
func (c RendezvousConfig) Validate() error {
	if err := validatePort("rendezvous", c.RegistrationPort); err != nil {
		return err
	}
	if err := validatePort("rendezvous", c.LookupPort); err != nil {
		return err
	}
	if c.RegistrationPort != 0 && c.RegistrationPort == c.LookupPort {
		return errors.New("rendezvous: registration and lookup ports must differ")
	}
	if c.PollInterval <= 0 {
		return errors.New("rendezvous: poll interval must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rendezvous: rate limit must be non-negative")
	}
	return nil
}
