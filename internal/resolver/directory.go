package resolver

import "sync"

// DemoRendezvousAddr 演示名称指向的 Rendezvous 点
const DemoRendezvousAddr = "128.36.232.37"

// DemoNames 演示名称表
func DemoNames() map[string]string {
	return map[string]string{
		"python": DemoRendezvousAddr,
		"tick":   DemoRendezvousAddr,
	}
}

// Directory 逻辑名 -> Rendezvous 点地址
//
// 并发安全。来自名称表文件的条目单独记录，重新加载时只替换这部分。
type Directory struct {
	mu     sync.RWMutex
	names  map[string]string
	seeded map[string]struct{}
}

// NewDirectory 创建空目录
func NewDirectory() *Directory {
	return &Directory{
		names:  make(map[string]string),
		seeded: make(map[string]struct{}),
	}
}

// AddName 添加或覆盖一条记录，总是返回 true
func (d *Directory) AddName(name, addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.names[name] = addr
	delete(d.seeded, name)
	return true
}

// LookupName 精确匹配查询，不存在时返回 ""
func (d *Directory) LookupName(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.names[name]
}

// Names 返回目录快照
func (d *Directory) Names() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

// Len 返回条目数
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}

// ReplaceSeed 用新的名称表替换之前由名称表加载的条目
//
// 通过 AddName 添加的条目保持不变，除非新名称表中有同名条目。
func (d *Directory) ReplaceSeed(names map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.seeded {
		if _, ok := names[name]; !ok {
			delete(d.names, name)
		}
	}
	d.seeded = make(map[string]struct{}, len(names))
	for name, addr := range names {
		d.names[name] = addr
		d.seeded[name] = struct{}{}
	}
}
