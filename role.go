package permip

import (
	"fmt"
	"sort"
	"strings"
)

// Role 节点角色
type Role int

const (
	// RoleResolver 名称解析服务
	RoleResolver Role = iota + 1

	// RoleRendezvous Rendezvous 点
	RoleRendezvous

	// RoleAgent 移动代理
	RoleAgent

	// RoleEcho 回显示例应用，隐含 RoleAgent
	RoleEcho
)

var roleNames = map[Role]string{
	RoleResolver:   "resolver",
	RoleRendezvous: "rendezvous",
	RoleAgent:      "agent",
	RoleEcho:       "echo",
}

// String 返回角色名
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole 解析角色名，大小写不敏感
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// roleSet 去重并补齐隐含角色
type roleSet map[Role]bool

func newRoleSet(roles []Role) roleSet {
	s := make(roleSet, len(roles))
	for _, r := range roles {
		s[r] = true
	}
	if s[RoleEcho] {
		s[RoleAgent] = true
	}
	return s
}

// list 按定义顺序返回角色
func (s roleSet) list() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
