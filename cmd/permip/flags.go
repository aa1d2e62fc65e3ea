package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/dep2p/go-permip/config"
)

// ============================================================================
//                              参数定义
// ============================================================================

func globalFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "PERMIP_CONFIG",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Log levels, e.g. \"agent=debug,info\"",
		},
		cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: text or json",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Expose Prometheus /metrics on this address (host:port)",
		},
	}
}

func resolverFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "Listen host",
		},
		cli.IntFlag{
			Name:  "port, p",
			Usage: "Listen port",
		},
		cli.StringFlag{
			Name:  "seed-file",
			Usage: "YAML file mapping logical names to rendezvous point addresses",
		},
		cli.BoolFlag{
			Name:  "watch",
			Usage: "Reload the seed file when it changes",
		},
		cli.BoolFlag{
			Name:  "demo",
			Usage: "Seed the demo names",
		},
		cli.StringSliceFlag{
			Name:  "name, n",
			Usage: "Static entry NAME=ADDR, may be repeated",
		},
	}
}

func rendezvousFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "Listen host",
		},
		cli.IntFlag{
			Name:  "registration-port",
			Usage: "Registration port",
		},
		cli.IntFlag{
			Name:  "lookup-port",
			Usage: "Lookup/subscribe port",
		},
		cli.StringFlag{
			Name:  "dns-server",
			Usage: "DNS server (host:port) used to name subscribers, empty for the system resolver",
		},
	}
}

func agentFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "name, n",
			Usage: "Logical name of this host",
		},
		cli.StringFlag{
			Name:  "resolver, r",
			Usage: "Resolver address",
		},
		cli.IntFlag{
			Name:  "resolver-port",
			Usage: "Resolver port",
		},
		cli.StringFlag{
			Name:  "rendezvous",
			Usage: "Address of this host's rendezvous point",
		},
		cli.IntFlag{
			Name:  "registration-port",
			Usage: "Rendezvous registration port",
		},
		cli.IntFlag{
			Name:  "lookup-port",
			Usage: "Rendezvous lookup port",
		},
		cli.StringFlag{
			Name:  "local-address",
			Usage: "Use this address instead of probing the interfaces",
		},
	}
}

func echoFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "keyword, k",
			Usage: "Heartbeat keyword",
		},
		cli.IntFlag{
			Name:  "port, p",
			Usage: "Local application port",
		},
		cli.StringFlag{
			Name:  "peer",
			Usage: "Logical name of the peer",
		},
		cli.IntFlag{
			Name:  "peer-port",
			Usage: "Application port of the peer",
		},
		cli.DurationFlag{
			Name:  "interval",
			Usage: "Heartbeat interval",
		},
	}
}

func lookupFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "resolver, r",
			Usage: "Resolver address",
		},
		cli.IntFlag{
			Name:  "resolver-port",
			Usage: "Resolver port",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "Reply timeout",
		},
	}
}

// ============================================================================
//                              配置合并
// ============================================================================

// loadConfig 加载配置文件和环境变量，再用全局参数覆盖
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}

	if v := c.GlobalString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.GlobalString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := c.GlobalString("metrics-addr"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = v
	}
	return cfg, nil
}

func applyResolverFlags(c *cli.Context, cfg *config.Config) error {
	setString(c, "listen", &cfg.Resolver.ListenAddr)
	setInt(c, "port", &cfg.Resolver.Port)
	setString(c, "seed-file", &cfg.Resolver.SeedFile)
	if c.IsSet("watch") {
		cfg.Resolver.WatchSeedFile = c.Bool("watch")
	}
	if c.IsSet("demo") {
		cfg.Resolver.SeedDemoNames = c.Bool("demo")
	}

	for _, entry := range c.StringSlice("name") {
		name, addr, ok := strings.Cut(entry, "=")
		if !ok || name == "" || addr == "" {
			return fmt.Errorf("invalid --name %q: want NAME=ADDR", entry)
		}
		if cfg.Resolver.Names == nil {
			cfg.Resolver.Names = make(map[string]string)
		}
		cfg.Resolver.Names[name] = addr
	}
	return nil
}

func applyRendezvousFlags(c *cli.Context, cfg *config.Config) {
	setString(c, "listen", &cfg.Rendezvous.ListenAddr)
	setInt(c, "registration-port", &cfg.Rendezvous.RegistrationPort)
	setInt(c, "lookup-port", &cfg.Rendezvous.LookupPort)
	setString(c, "dns-server", &cfg.HostLookup.Server)
}

func applyAgentFlags(c *cli.Context, cfg *config.Config) {
	setString(c, "name", &cfg.Agent.Name)
	setString(c, "resolver", &cfg.Agent.ResolverAddr)
	setInt(c, "resolver-port", &cfg.Agent.ResolverPort)
	setString(c, "rendezvous", &cfg.Agent.RendezvousAddr)
	setInt(c, "registration-port", &cfg.Agent.RegistrationPort)
	setInt(c, "lookup-port", &cfg.Agent.LookupPort)
	setString(c, "local-address", &cfg.Agent.LocalAddress)
}

func applyEchoFlags(c *cli.Context, cfg *config.Config) {
	setString(c, "keyword", &cfg.Echo.Keyword)
	setInt(c, "port", &cfg.Echo.Port)
	setString(c, "peer", &cfg.Echo.PeerName)
	setInt(c, "peer-port", &cfg.Echo.PeerPort)
	if c.IsSet("interval") {
		cfg.Echo.Interval = config.Duration(c.Duration("interval"))
	}
}

func setString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

func setInt(c *cli.Context, name string, dst *int) {
	if c.IsSet(name) {
		*dst = c.Int(name)
	}
}

// lookupTimeout 返回 lookup 命令的超时，未指定时使用代理的往返超时
func lookupTimeout(c *cli.Context, cfg *config.Config) time.Duration {
	if d := c.Duration("timeout"); d > 0 {
		return d
	}
	return time.Duration(cfg.Agent.RequestTimeout)
}
