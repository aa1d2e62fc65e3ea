package metrics

import "time"

// Reporter 记录服务事件
type Reporter interface {
	// RequestHandled 记录一个已应答的请求
	RequestHandled(service, op, result string, d time.Duration)

	// RequestDropped 记录一个被丢弃的请求
	RequestDropped(service, reason string)

	// PushSent 记录一次推送
	PushSent(ok bool)

	// SetRegistrations 设置当前注册名称数
	SetRegistrations(n int)

	// SetSubscriptions 设置当前订阅总数
	SetSubscriptions(n int)

	// AgentEvent 记录移动代理事件
	AgentEvent(event string)
}

// 确保实现 Reporter 接口
var (
	_ Reporter = (*Collector)(nil)
	_ Reporter = Nop{}
)

// Nop 不记录任何内容的 Reporter
type Nop struct{}

func (Nop) RequestHandled(string, string, string, time.Duration) {}
func (Nop) RequestDropped(string, string)                       {}
func (Nop) PushSent(bool)                                       {}
func (Nop) SetRegistrations(int)                                {}
func (Nop) SetSubscriptions(int)                                {}
func (Nop) AgentEvent(string)                                   {}

// OrNop 在 r 为 nil 时返回 Nop
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}
