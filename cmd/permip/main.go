// Package main 提供 permip 命令行工具
//
// 子命令按角色划分：
//
//	permip resolver    运行名称解析服务
//	permip rendezvous  运行 Rendezvous 点
//	permip agent       运行移动代理
//	permip echo        运行回显示例（包含移动代理）
//	permip lookup      查询解析服务
//	permip config      打印生效配置
//
// 配置优先级：命令行参数 > 环境变量 PERMIP_* > 配置文件 > 默认值。
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	permip "github.com/dep2p/go-permip"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", Red("错误:"), err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "permip"
	app.Usage = "permanent-IP indirection for mobile UDP endpoints"
	app.Version = permip.Version
	app.Flags = globalFlags()
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "resolver",
			Usage:  "Run the name resolver (logical name -> rendezvous point)",
			Flags:  resolverFlags(),
			Action: resolverCommand,
		},
		cli.Command{
			Name:   "rendezvous",
			Usage:  "Run a rendezvous point (registration + lookup/subscribe)",
			Flags:  rendezvousFlags(),
			Action: rendezvousCommand,
		},
		cli.Command{
			Name:   "agent",
			Usage:  "Run the mobility agent for this host",
			Flags:  agentFlags(),
			Action: agentCommand,
		},
		cli.Command{
			Name:   "echo",
			Usage:  "Run the echo sample application against a peer",
			Flags:  append(agentFlags(), echoFlags()...),
			Action: echoCommand,
		},
		cli.Command{
			Name:      "lookup",
			Usage:     "Ask a resolver which rendezvous point serves NAME",
			ArgsUsage: "NAME",
			Flags:     lookupFlags(),
			Action:    lookupCommand,
		},
		cli.Command{
			Name:   "config",
			Usage:  "Print the effective configuration as YAML",
			Action: configCommand,
		},
	}
	return app
}
