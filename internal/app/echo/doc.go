// Package echo 实现回显示例应用
//
// 应用在自己的套接字上通过移动代理登记一个对端，然后每个周期：
//
//   - 读取收到的报文：对端发来的内容原样发回，自己的心跳回来时置位 received
//   - received 已置位时向对端发送心跳关键字并清除 received
//
// 两个回显应用互为对端时形成双向回声。对端地址来自 PeerHandle，
// 对端移动后由代理更新，应用无需感知。
package echo
