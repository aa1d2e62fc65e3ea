// Package udp 封装 permip 使用的 IPv4 UDP 套接字
//
// 服务端和移动代理都以轮询方式读取套接字：TryRecv 和 Peek 在没有数据时
// 立即返回 ErrWouldBlock，调用方把它当作"本轮无事可做"。
//
// RoundTrip 是一次有界的阻塞往返：临时把套接字切换到阻塞模式，
// 发送请求并等待一个应答，返回前在所有路径上恢复原来的模式；
// 如果套接字由 RoundTrip 自己创建，也在返回前关闭。
package udp
