package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	permip "github.com/dep2p/go-permip"
	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/app/echo"
	"github.com/dep2p/go-permip/internal/core/udp"
	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// startNode 启动节点并阻塞到退出，测试中会被替换
var startNode = runNode

// ============================================================================
//                              角色命令
// ============================================================================

func resolverCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyResolverFlags(c, cfg); err != nil {
		return err
	}
	return startNode(c, cfg, permip.RoleResolver)
}

func rendezvousCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyRendezvousFlags(c, cfg)
	return startNode(c, cfg, permip.RoleRendezvous)
}

func agentCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyAgentFlags(c, cfg)
	return startNode(c, cfg, permip.RoleAgent)
}

func echoCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyAgentFlags(c, cfg)
	applyEchoFlags(c, cfg)
	return startNode(c, cfg, permip.RoleEcho)
}

// runNode 启动节点，等待信号或节点自行退出，然后关闭
func runNode(c *cli.Context, cfg *config.Config, roles ...permip.Role) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out := c.App.Writer

	opts := []permip.Option{
		permip.WithConfig(cfg),
		permip.WithRoles(roles...),
	}
	for _, r := range roles {
		if r == permip.RoleEcho {
			opts = append(opts, permip.WithEchoEvents(echoPrinter(out)))
		}
	}

	node, err := permip.Start(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("启动节点失败: %w", err)
	}
	printNodeInfo(out, node)

	reason := waitForSignal(node.Done())
	if reason != "" {
		fmt.Fprintf(out, "\n%s %s\n", Yellow("正在关闭:"), reason)
		node.RequestStop(reason)
	}

	if err := node.Close(); err != nil {
		return fmt.Errorf("关闭节点失败: %w", err)
	}
	return node.Err()
}

// waitForSignal 等待 SIGINT/SIGTERM 或 done 关闭
//
// 收到信号时返回信号描述，done 先关闭时返回空字符串。
func waitForSignal(done <-chan struct{}) string {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		return "signal " + sig.String()
	case <-done:
		return ""
	}
}

func printNodeInfo(out io.Writer, node *permip.Node) {
	cfg := node.Config()
	fmt.Fprintf(out, "%s %s\n", Green("permip"), permip.Version)

	if node.Resolver() != nil {
		fmt.Fprintf(out, "  解析服务:     %s\n", Cyan(node.Resolver().Addr().String()))
	}
	if rs := node.Rendezvous(); rs != nil {
		fmt.Fprintf(out, "  注册端口:     %s\n", Cyan(rs.RegistrationAddr().String()))
		fmt.Fprintf(out, "  查询端口:     %s\n", Cyan(rs.LookupAddr().String()))
	}
	if a := node.Agent(); a != nil {
		fmt.Fprintf(out, "  逻辑名:       %s\n", Cyan(a.Name()))
		fmt.Fprintf(out, "  Rendezvous:   %s\n", Cyan(cfg.Agent.RendezvousAddr))
	}
	if node.Echo() != nil {
		fmt.Fprintf(out, "  对端:         %s:%d\n", Cyan(cfg.Echo.PeerName), cfg.Echo.PeerPort)
	}
	if cfg.Metrics.ListenAddr != "" {
		fmt.Fprintf(out, "  指标:         http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Fprintln(out, "按 Ctrl+C 退出")
}

// echoPrinter 返回把回显事件输出到控制台的回调
func echoPrinter(out io.Writer) func(echo.Event) {
	return func(ev echo.Event) {
		peer := "-"
		if ev.Peer != nil {
			peer = ev.Peer.String()
		}
		switch ev.Kind {
		case echo.EventConnected:
			fmt.Fprintf(out, "%s %s\n", Green("已连接"), peer)
		case echo.EventEchoed:
			fmt.Fprintf(out, "%s %q <- %s\n", Cyan("回显"), ev.Text, peer)
		case echo.EventReturned:
			fmt.Fprintf(out, "%s %q\n", Yellow("返回"), ev.Text)
		case echo.EventSent:
			fmt.Fprintf(out, "%s %q -> %s\n", Magenta("发送"), ev.Text, peer)
		}
	}
}

// ============================================================================
//                              工具命令
// ============================================================================

// errNameNotFound 解析服务没有该名称
var errNameNotFound = errors.New("name not found")

func lookupCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: permip lookup [--resolver ADDR] NAME")
	}
	name := c.Args().First()
	if err := protocol.ValidateName(name); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setString(c, "resolver", &cfg.Agent.ResolverAddr)
	setInt(c, "resolver-port", &cfg.Agent.ResolverPort)

	packed, err := addrcodec.TextToPacked(cfg.Agent.ResolverAddr)
	if err != nil {
		return fmt.Errorf("resolver address: %w", err)
	}
	server := addrcodec.PackedToUDPAddr(packed, cfg.Agent.ResolverPort)

	addr, err := resolveName(context.Background(), server, name, lookupTimeout(c, cfg))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s -> %s\n", name, Green(addr))
	return nil
}

// resolveName 向解析服务查询逻辑名对应的 Rendezvous 点地址
func resolveName(ctx context.Context, server *net.UDPAddr, name string, timeout time.Duration) (string, error) {
	reply, err := udp.RoundTrip(ctx, nil, server, protocol.Encode(name), timeout)
	if err != nil {
		return "", fmt.Errorf("query resolver %s: %w", server, err)
	}
	if reply == "" {
		return "", fmt.Errorf("%s: %w", name, errNameNotFound)
	}
	if _, err := addrcodec.TextToPacked(reply); err != nil {
		return "", fmt.Errorf("resolver reply %q: %w", reply, err)
	}
	return reply, nil
}

func configCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := config.ToYAML(cfg)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}
