// Package config 提供 permip 的统一配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 YAML 加载，环境变量 PERMIP_* 覆盖文件中的值
//
// 使用示例：
//
//	cfg, err := config.Load("/etc/permip.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg.Agent.Name = "laptop"
package config

// Config 是 permip 的完整配置结构
//
// 配置按照角色组织：
//   - Log: 日志级别与格式
//   - Resolver: 名称解析服务
//   - Rendezvous: Rendezvous 服务
//   - Agent: 移动代理
//   - Echo: 示例回显应用
//   - HostLookup: 反向解析
//   - Metrics: Prometheus 指标
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Resolver 解析服务配置
	Resolver ResolverConfig `yaml:"resolver"`

	// Rendezvous Rendezvous 服务配置
	Rendezvous RendezvousConfig `yaml:"rendezvous"`

	// Agent 移动代理配置
	Agent AgentConfig `yaml:"agent"`

	// Echo 回显应用配置
	Echo EchoConfig `yaml:"echo"`

	// HostLookup 反向解析配置
	HostLookup HostLookupConfig `yaml:"host_lookup"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Log:        DefaultLogConfig(),
		Resolver:   DefaultResolverConfig(),
		Rendezvous: DefaultRendezvousConfig(),
		Agent:      DefaultAgentConfig(),
		Echo:       DefaultEchoConfig(),
		HostLookup: DefaultHostLookupConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 角色相关的必填项（例如 Agent.Name）不在这里检查，
// 由对应服务在创建时检查。
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Resolver.Validate(); err != nil {
		return err
	}
	if err := c.Rendezvous.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Echo.Validate(); err != nil {
		return err
	}
	if err := c.HostLookup.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}
