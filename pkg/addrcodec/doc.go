// Package addrcodec 提供 IPv4 地址的文本与打包整数互转、反向域名解析和本机地址探测
//
// # 打包约定
//
// 打包地址是 uint32，点分十进制的第一个八位组位于最低字节：
//
//	"1.2.3.4" -> 0x04030201
//
// 这与 IPv4 地址在内存中按网络字节序存放、再按小端读取的结果一致。
// 报文中打包地址一律以无符号十进制出现。
//
// # 反向解析
//
// PackedToHostName 通过可替换的 HostResolver 完成反向解析，失败时返回空字符串，不重试。
// 提供三种实现：
//   - SystemResolver: 使用系统解析器
//   - DNSResolver: 直接向指定 DNS 服务器发送 PTR 查询
//   - CachingResolver: 为任意 HostResolver 加一层带过期时间的 LRU 缓存
package addrcodec
