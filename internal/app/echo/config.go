package echo

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// Config 回显应用配置
type Config struct {
	// Keyword 心跳内容，两端应不同
	Keyword string

	// ListenAddr 应用套接字监听主机
	ListenAddr string

	// Port 应用套接字端口
	Port int

	// PeerName 对端逻辑名
	PeerName string

	// PeerPort 对端应用端口
	PeerPort int

	// StartDelay 登记对端后开始收发前的等待
	StartDelay time.Duration

	// Interval 收发周期
	Interval time.Duration

	// MaxAttempts 登记对端的最大尝试次数
	MaxAttempts int

	// RetryStep 第 n 次失败后等待 n*RetryStep
	RetryStep time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Keyword:     "ping",
		ListenAddr:  "0.0.0.0",
		StartDelay:  5 * time.Second,
		Interval:    time.Second,
		MaxAttempts: 10,
		RetryStep:   time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Keyword == "" {
		return errors.New("keyword is empty")
	}
	if err := protocol.ValidateName(c.PeerName); err != nil {
		return fmt.Errorf("peer name: %w", err)
	}
	if c.Port < 0 || c.Port > 65535 || c.PeerPort <= 0 || c.PeerPort > 65535 {
		return errors.New("port out of range")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	return nil
}

// ConfigFromUnified 从统一配置创建回显应用配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	e := cfg.Echo
	c.Keyword = e.Keyword
	c.Port = e.Port
	c.PeerName = e.PeerName
	c.PeerPort = e.PeerPort
	c.StartDelay = e.StartDelay.Duration()
	c.Interval = e.Interval.Duration()
	c.MaxAttempts = e.MaxAttempts
	return c
}
