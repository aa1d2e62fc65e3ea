package config

import (
	"errors"
	"time"
)

// AgentConfig 移动代理配置
type AgentConfig struct {
	// Name 本机逻辑名
	Name string `yaml:"name"`

	// ResolverAddr 解析服务地址（点分十进制）
	ResolverAddr string `yaml:"resolver_addr"`

	// ResolverPort 解析服务端口
	ResolverPort int `yaml:"resolver_port"`

	// RendezvousAddr 本机所属的 Rendezvous 点地址
	RendezvousAddr string `yaml:"rendezvous_addr"`

	// RegistrationPort Rendezvous 注册端口
	RegistrationPort int `yaml:"registration_port"`

	// LookupPort Rendezvous 查询端口
	LookupPort int `yaml:"lookup_port"`

	// LocalAddress 固定本机地址，空表示从网络接口探测
	LocalAddress string `yaml:"local_address,omitempty"`

	// PollInterval 地址检查与推送轮询间隔
	PollInterval Duration `yaml:"poll_interval"`

	// RequestTimeout 单次阻塞往返超时
	RequestTimeout Duration `yaml:"request_timeout"`

	// MaxAttempts 解析服务查询的最大尝试次数
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase 首次重试前的等待时间，之后每次翻倍
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffMax 单次等待上限
	BackoffMax Duration `yaml:"backoff_max"`
}

// DefaultAgentConfig 返回默认移动代理配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ResolverPort:     16000,
		RegistrationPort: 16001,
		LookupPort:       16000,
		PollInterval:     Duration(time.Second),
		RequestTimeout:   Duration(3 * time.Second),
		MaxAttempts:      10,
		BackoffBase:      Duration(time.Second),
		BackoffMax:       Duration(10 * time.Second),
	}
}

// Validate 验证移动代理配置
func (c AgentConfig) Validate() error {
	for _, port := range []int{c.ResolverPort, c.RegistrationPort, c.LookupPort} {
		if err := validatePort("agent", port); err != nil {
			return err
		}
	}
	if c.PollInterval <= 0 {
		return errors.New("agent: poll interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("agent: request timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("agent: max attempts must be positive")
	}
	if c.BackoffBase < 0 || c.BackoffMax < c.BackoffBase {
		return errors.New("agent: backoff max must be >= backoff base >= 0")
	}
	return nil
}

// EchoConfig 回显应用配置
type EchoConfig struct {
	// Keyword 心跳内容
	Keyword string `yaml:"keyword"`

	// Port 应用套接字端口
	Port int `yaml:"port"`

	// PeerName 对端逻辑名
	PeerName string `yaml:"peer_name"`

	// PeerPort 对端应用端口
	PeerPort int `yaml:"peer_port"`

	// StartDelay 连接对端后开始心跳前的等待
	StartDelay Duration `yaml:"start_delay"`

	// Interval 心跳间隔
	Interval Duration `yaml:"interval"`

	// MaxAttempts 连接对端的最大尝试次数
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultEchoConfig 返回默认回显应用配置
func DefaultEchoConfig() EchoConfig {
	return EchoConfig{
		Keyword:     "ping",
		StartDelay:  Duration(5 * time.Second),
		Interval:    Duration(time.Second),
		MaxAttempts: 10,
	}
}

// Validate 验证回显应用配置
func (c EchoConfig) Validate() error {
	if err := validatePort("echo", c.Port); err != nil {
		return err
	}
	if err := validatePort("echo", c.PeerPort); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return errors.New("echo: interval must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("echo: max attempts must be positive")
	}
	return nil
}
