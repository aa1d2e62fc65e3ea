// Package protocol 定义 permip 的线上报文格式
//
// 本包是所有端口常量和报文编解码的单一真相源，
// 解析服务、Rendezvous 服务和移动代理都从此包引用，而不是自行拼接字符串。
//
// # 报文
//
// 所有报文都是单个 UDP 数据报，内容为 ASCII 文本，
// 逻辑内容为第一个 NUL 字节之前的字符串。服务端的应答补齐 NUL 到 MaxDatagramSize。
//
//   - 解析请求:     <name>          应答: 地址文本或 ""
//   - 注册请求:     <name>          应答: "<name> <packed>"
//   - 查询/订阅:    <name>          应答: 地址文本或 ""
//   - 推送:         <地址文本>       无应答
//
// packed 为无符号十进制的打包地址（第一个八位组位于最低字节）。
//
// # 端口
//
// 解析服务默认使用 16000，Rendezvous 注册端口 16001，查询端口 16000。
// 查询端口与解析端口相同，两者通常部署在不同主机上。
package protocol
