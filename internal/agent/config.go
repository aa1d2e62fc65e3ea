package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// Config 移动代理配置
type Config struct {
	// Name 本机逻辑名
	Name string

	// ResolverAddr 解析服务地址
	ResolverAddr string

	// ResolverPort 解析服务端口
	ResolverPort int

	// RendezvousAddr 本机 Rendezvous 点地址
	RendezvousAddr string

	// RegistrationPort Rendezvous 注册端口
	RegistrationPort int

	// LookupPort Rendezvous 查询端口，所有 Rendezvous 点相同
	LookupPort int

	// LocalAddress 固定本机地址，空表示探测网络接口
	LocalAddress string

	// PollInterval 代理循环间隔
	PollInterval time.Duration

	// RequestTimeout 单次往返超时
	RequestTimeout time.Duration

	// MaxAttempts 解析服务查询最大尝试次数
	MaxAttempts int

	// BackoffBase 首次重试等待
	BackoffBase time.Duration

	// BackoffMax 单次等待上限
	BackoffMax time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ResolverPort:     protocol.DefaultResolverPort,
		RegistrationPort: protocol.DefaultRegistrationPort,
		LookupPort:       protocol.DefaultLookupPort,
		PollInterval:     time.Second,
		RequestTimeout:   3 * time.Second,
		MaxAttempts:      10,
		BackoffBase:      time.Second,
		BackoffMax:       10 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := protocol.ValidateName(c.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if _, err := addrcodec.TextToPacked(c.ResolverAddr); err != nil {
		return fmt.Errorf("resolver address: %w", err)
	}
	if _, err := addrcodec.TextToPacked(c.RendezvousAddr); err != nil {
		return fmt.Errorf("rendezvous address: %w", err)
	}
	if c.LocalAddress != "" {
		if _, err := addrcodec.TextToPacked(c.LocalAddress); err != nil {
			return fmt.Errorf("local address: %w", err)
		}
	}
	for _, port := range []int{c.ResolverPort, c.RegistrationPort, c.LookupPort} {
		if port <= 0 || port > 65535 {
			return errors.New("port out of range")
		}
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if c.BackoffBase < 0 || c.BackoffMax < c.BackoffBase {
		return errors.New("backoff max must be >= backoff base >= 0")
	}
	return nil
}

// ConfigFromUnified 从统一配置创建代理配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	a := cfg.Agent
	return Config{
		Name:             a.Name,
		ResolverAddr:     a.ResolverAddr,
		ResolverPort:     a.ResolverPort,
		RendezvousAddr:   a.RendezvousAddr,
		RegistrationPort: a.RegistrationPort,
		LookupPort:       a.LookupPort,
		LocalAddress:     a.LocalAddress,
		PollInterval:     a.PollInterval.Duration(),
		RequestTimeout:   a.RequestTimeout.Duration(),
		MaxAttempts:      a.MaxAttempts,
		BackoffBase:      a.BackoffBase.Duration(),
		BackoffMax:       a.BackoffMax.Duration(),
	}
}

// backoff 返回第 attempt 次失败后的等待时间（attempt 从 1 开始）
func (c *Config) backoff(attempt int) time.Duration {
	d := c.BackoffBase
	for i := 1; i < attempt && d < c.BackoffMax; i++ {
		d *= 2
	}
	if d > c.BackoffMax {
		d = c.BackoffMax
	}
	return d
}
