package rendezvous

import (
	"net"
	"sort"
	"sync"

	"github.com/dep2p/go-permip/pkg/addrcodec"
)

// ============================================================================
//                              订阅者
// ============================================================================

// Subscriber 订阅者标识: 来源主机名和来源端口
type Subscriber struct {
	Name string
	Port int
}

// PushTarget 一个推送目标
type PushTarget struct {
	Subscriber Subscriber

	// Addr 订阅时记录的来源地址
	Addr *net.UDPAddr
}

// ============================================================================
//                              Store 存储
// ============================================================================

// record 一个名称的注册记录
type record struct {
	addr uint32
	subs map[Subscriber]uint32 // 订阅者 -> 订阅时的来源主机
}

// Store 注册与订阅存储
//
// 并发安全，但切换订阅是"检查再翻转"，调用方需要保证同一名称的修改来自同一个 goroutine
// 才能得到确定的结果。
type Store struct {
	mu      sync.RWMutex
	records map[string]*record

	// 统计
	subscriptions int
}

// NewStore 创建存储
func NewStore() *Store {
	return &Store{
		records: make(map[string]*record),
	}
}

// Register 设置名称的当前地址，返回需要推送的目标
//
// 记录不存在时创建，存在时覆盖地址并保留订阅集合。
func (s *Store) Register(name string, addr uint32) []PushTarget {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		rec = &record{subs: make(map[Subscriber]uint32)}
		s.records[name] = rec
	}
	rec.addr = addr

	targets := make([]PushTarget, 0, len(rec.subs))
	for sub, host := range rec.subs {
		targets = append(targets, PushTarget{
			Subscriber: sub,
			Addr:       addrcodec.PackedToUDPAddr(host, sub.Port),
		})
	}
	return targets
}

// Lookup 返回名称的当前地址
func (s *Store) Lookup(name string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return 0, false
	}
	return rec.addr, true
}

// ToggleSubscription 切换订阅者在名称订阅集合中的成员关系
//
// host 为订阅者的来源主机（打包地址），推送时使用。
// 端口相同且主机名或来源主机相同的已有订阅者视为同一个，
// 反向解析结果在两次查询之间变化时仍然取消原来的订阅。
// 名称未注册时不做任何修改，found 为 false。
// subscribed 表示切换后订阅者是否在集合中。
func (s *Store) ToggleSubscription(name string, sub Subscriber, host uint32) (addr uint32, subscribed, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return 0, false, false
	}

	for existing, h := range rec.subs {
		if existing.Port == sub.Port && (existing.Name == sub.Name || h == host) {
			delete(rec.subs, existing)
			s.subscriptions--
			return rec.addr, false, true
		}
	}
	rec.subs[sub] = host
	s.subscriptions++
	return rec.addr, true, true
}

// Subscribers 返回名称的订阅者，按名称和端口排序
func (s *Store) Subscribers(name string) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return nil
	}
	out := make([]Subscriber, 0, len(rec.subs))
	for sub := range rec.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// Names 返回所有已注册名称，按字典序
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for name := range s.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StoreStats 存储统计
type StoreStats struct {
	Registrations int
	Subscriptions int
}

// Stats 返回存储统计
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Registrations: len(s.records),
		Subscriptions: s.subscriptions,
	}
}
