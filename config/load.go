package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FromYAML 从 YAML 解析配置，缺省字段使用默认值
func FromYAML(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ToYAML 将配置序列化为 YAML
func ToYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Load 加载配置文件并应用环境变量覆盖
//
// path 为空时只使用默认值和环境变量。返回前会调用 Validate。
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = FromYAML(data); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置
//
// 支持的变量:
//   - PERMIP_AGENT_NAME
//   - PERMIP_RESOLVER_ADDR / PERMIP_RESOLVER_PORT
//   - PERMIP_RENDEZVOUS_ADDR
//   - PERMIP_REGISTRATION_PORT / PERMIP_LOOKUP_PORT
//   - PERMIP_LOCAL_ADDRESS
//   - PERMIP_DNS_SERVER
//   - PERMIP_METRICS_ADDR
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst ...*string) {
		if v, ok := lookup(key); ok && v != "" {
			for _, d := range dst {
				*d = v
			}
		}
	}
	port := func(key string, dst ...*int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		for _, d := range dst {
			*d = n
		}
		return nil
	}

	str("PERMIP_AGENT_NAME", &cfg.Agent.Name)
	str("PERMIP_RESOLVER_ADDR", &cfg.Agent.ResolverAddr)
	str("PERMIP_RENDEZVOUS_ADDR", &cfg.Agent.RendezvousAddr)
	str("PERMIP_LOCAL_ADDRESS", &cfg.Agent.LocalAddress)
	str("PERMIP_DNS_SERVER", &cfg.HostLookup.Server)
	str("PERMIP_METRICS_ADDR", &cfg.Metrics.ListenAddr)

	if err := port("PERMIP_RESOLVER_PORT", &cfg.Resolver.Port, &cfg.Agent.ResolverPort); err != nil {
		return err
	}
	if err := port("PERMIP_REGISTRATION_PORT", &cfg.Rendezvous.RegistrationPort, &cfg.Agent.RegistrationPort); err != nil {
		return err
	}
	return port("PERMIP_LOOKUP_PORT", &cfg.Rendezvous.LookupPort, &cfg.Agent.LookupPort)
}
