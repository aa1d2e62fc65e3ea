package addrcodec

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
)

// DefaultLookupTimeout 单次反向解析的默认超时
const DefaultLookupTimeout = 2 * time.Second

// HostResolver 反向解析器
type HostResolver interface {
	// LookupHost 返回打包地址对应的主机名
	LookupHost(ctx context.Context, addr uint32) (string, error)
}

var (
	defaultResolver   HostResolver = NewSystemResolver()
	defaultResolverMu sync.RWMutex
)

// SetDefaultResolver 替换 PackedToHostName 使用的解析器
func SetDefaultResolver(r HostResolver) {
	if r == nil {
		r = NewSystemResolver()
	}
	defaultResolverMu.Lock()
	defaultResolver = r
	defaultResolverMu.Unlock()
}

// DefaultResolver 返回当前默认解析器
func DefaultResolver() HostResolver {
	defaultResolverMu.RLock()
	defer defaultResolverMu.RUnlock()
	return defaultResolver
}

// PackedToHostName 通过默认解析器反向解析，失败返回 ""
func PackedToHostName(addr uint32) string {
	return HostName(context.Background(), DefaultResolver(), addr)
}

// HostName 使用指定解析器反向解析，失败返回 ""，不重试
func HostName(ctx context.Context, r HostResolver, addr uint32) string {
	if r == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultLookupTimeout)
	defer cancel()

	name, err := r.LookupHost(ctx, addr)
	if err != nil {
		log.Debug("反向解析失败", "addr", PackedToText(addr), "err", err)
		return ""
	}
	return name
}

// ============================================================================
//                              系统解析器
// ============================================================================

// SystemResolver 使用 net.Resolver 的反向解析器
type SystemResolver struct {
	resolver *net.Resolver
}

// NewSystemResolver 创建系统解析器
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

// LookupHost 实现 HostResolver
func (r *SystemResolver) LookupHost(ctx context.Context, addr uint32) (string, error) {
	names, err := r.resolver.LookupAddr(ctx, PackedToText(addr))
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrHostNotFound
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// ============================================================================
//                              DNS 解析器
// ============================================================================

// DNSResolver 直接向指定服务器发送 PTR 查询
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver 创建 DNS 解析器
//
// server 为 host:port 形式，例如 "10.0.0.53:53"。
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupHost 实现 HostResolver
func (r *DNSResolver) LookupHost(ctx context.Context, addr uint32) (string, error) {
	arpa, err := dns.ReverseAddr(PackedToText(addr))
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", fmt.Errorf("ptr query %s: %w", arpa, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w: %s", ErrHostNotFound, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", ErrHostNotFound
}

// ============================================================================
//                              缓存解析器
// ============================================================================

// CachingResolver 为反向解析结果加一层 LRU 缓存
//
// 失败结果同样缓存，过期前不会再次查询。
type CachingResolver struct {
	inner HostResolver
	cache *expirable.LRU[uint32, string]
}

// NewCachingResolver 创建缓存解析器
func NewCachingResolver(inner HostResolver, size int, ttl time.Duration) *CachingResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachingResolver{
		inner: inner,
		cache: expirable.NewLRU[uint32, string](size, nil, ttl),
	}
}

// LookupHost 实现 HostResolver
func (r *CachingResolver) LookupHost(ctx context.Context, addr uint32) (string, error) {
	if name, ok := r.cache.Get(addr); ok {
		if name == "" {
			return "", ErrHostNotFound
		}
		return name, nil
	}

	name, err := r.inner.LookupHost(ctx, addr)
	if err != nil {
		// 调用方取消不代表地址无法解析
		if ctx.Err() == nil {
			r.cache.Add(addr, "")
		}
		return "", err
	}
	r.cache.Add(addr, name)
	return name, nil
}

// Len 返回缓存条目数
func (r *CachingResolver) Len() int {
	return r.cache.Len()
}
