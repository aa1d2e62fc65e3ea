// Package permip 为移动 UDP 端点提供永久逻辑地址
//
// 移动主机以逻辑名注册到自己的 Rendezvous 点，地址变化时重新注册；
// 对端通过名称解析服务找到该 Rendezvous 点，查询当前地址并订阅变化。
// 之后每次重新注册，Rendezvous 点都会把新地址推送给所有订阅者。
//
// # 角色
//
//   - RoleResolver: 名称解析服务，逻辑名 -> Rendezvous 点地址
//   - RoleRendezvous: Rendezvous 点，注册端口 + 查询/订阅端口
//   - RoleAgent: 移动代理，注册本机并替应用跟踪对端
//   - RoleEcho: 回显示例应用（包含 RoleAgent）
//
// # 快速开始
//
//	cfg := config.NewConfig()
//	cfg.Agent.Name = "laptop"
//	cfg.Agent.ResolverAddr = "128.36.232.46"
//	cfg.Agent.RendezvousAddr = "128.36.232.28"
//
//	node, err := permip.Start(ctx,
//	    permip.WithConfig(cfg),
//	    permip.WithRoles(permip.RoleAgent),
//	)
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	h, err := node.Agent().RegisterPeer(ctx, appSocket, "desk")
//
// # 线路格式
//
// 所有请求与应答都是单个 UDP 报文，内容为 ASCII 字符串，以第一个 NUL 结束。
// 服务端应答补齐 NUL 到 4096 字节。打包地址的第一段位于最低字节，
// 在线路上以无符号十进制表示。详见 pkg/protocol 与 pkg/addrcodec。
//
// # 日志
//
// 日志按子系统输出，级别由 PERMIP_LOG_LEVEL 控制，例如：
//
//	PERMIP_LOG_LEVEL=rendezvous=debug,agent=debug,info
package permip
