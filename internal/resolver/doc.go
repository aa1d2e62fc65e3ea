// Package resolver 实现名称解析服务
//
// 解析服务维护 逻辑名 -> Rendezvous 点地址 的目录，
// 在一个 UDP 端口上应答查询：请求为逻辑名，应答为地址文本，未知名称应答空字符串。
// 应答补齐 NUL 到 protocol.MaxDatagramSize。
//
// 目录可以来自配置中的静态表、YAML 名称表文件，或运行时调用 AddName。
// 开启 WatchSeedFile 后，名称表文件变化会自动重新加载。
//
// 解析服务没有过期机制，条目在进程生命周期内一直有效。
package resolver
