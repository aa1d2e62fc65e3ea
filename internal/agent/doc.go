// Package agent 实现移动代理
//
// 移动代理运行在移动主机上，负责两件事：
//
//   - 把本机逻辑名注册到本机所属的 Rendezvous 点，并在本机地址变化时重新注册
//   - 替应用跟踪对端：RegisterPeer 先向解析服务查询对端的 Rendezvous 点，
//     再用应用自己的套接字向该 Rendezvous 点查询（同时订阅），
//     之后 Rendezvous 点推送到应用套接字的新地址由代理截获并更新 PeerHandle
//
// 代理循环在独立 goroutine 中按 PollInterval 运行，时间来源可注入（benbjohnson/clock），
// 测试中使用 clock.Mock 推进。
//
// 应用套接字由应用拥有；代理只在持有 PeerHandle 锁时查看或取出推送报文。
// 应用应通过 PeerHandle.Recv 读取套接字，推送报文会在其中被应用并跳过。
package agent
