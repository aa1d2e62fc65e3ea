// Package rendezvous 实现 Rendezvous 服务
//
// Rendezvous 点为每个逻辑名保存当前地址和一个订阅集合，在两个 UDP 端口上工作：
//
//   - 注册端口: 请求为逻辑名，地址取自报文来源。记录被覆盖（后写者胜），
//     新地址推送给该名称的全部订阅者，应答 "<name> <packed>"。
//   - 查询端口: 请求为逻辑名，订阅者为 (来源主机名, 来源端口)。
//     名称已注册时切换订阅者在集合中的成员关系，应答当前地址文本，未注册时应答 ""。
//
// 查询即订阅，重复查询即取消订阅。推送从查询端口的套接字发出，
// 内容为新地址文本，发往订阅时记录的来源地址和端口，不等待确认。
//
// 两个监听器由同一个轮询循环轮流读取，所有状态修改都发生在这个 goroutine 中。
package rendezvous
