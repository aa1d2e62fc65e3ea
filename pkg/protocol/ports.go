package protocol

// 默认端口
const (
	// DefaultResolverPort 解析服务端口
	DefaultResolverPort = 16000

	// DefaultRegistrationPort Rendezvous 注册端口
	DefaultRegistrationPort = 16001

	// DefaultLookupPort Rendezvous 查询/订阅端口
	DefaultLookupPort = 16000
)

// MaxDatagramSize 单个报文的最大长度，也是服务端应答的补齐长度
const MaxDatagramSize = 4096
