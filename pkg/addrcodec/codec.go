package addrcodec

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/dep2p/go-permip/internal/util/logger"
)

var log = logger.Logger("addrcodec")

// TextToPacked 将点分十进制文本转换为打包地址
//
// 文本必须恰好包含四段十进制数字，每段按 256 取模，段的长度不限。
// 段数不为四或某段为空、含非数字字符时返回 ErrMalformedAddress。
func TextToPacked(addr string) (uint32, error) {
	groups := strings.Split(addr, ".")
	if len(groups) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, addr)
	}

	var packed uint32
	for i, g := range groups {
		v, ok := groupMod256(g)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, addr)
		}
		packed |= v << (8 * i)
	}
	return packed, nil
}

// groupMod256 逐位计算十进制数字串对 256 的余数
func groupMod256(g string) (uint32, bool) {
	if g == "" {
		return 0, false
	}
	var v uint32
	for i := 0; i < len(g); i++ {
		c := g[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = (v*10 + uint32(c-'0')) & 0xFF
	}
	return v, true
}

// PackedToText 将打包地址转换为点分十进制文本
func PackedToText(addr uint32) string {
	var b strings.Builder
	b.Grow(15)
	for i := 0; i < 4; i++ {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(addr>>(8*i)&0xFF), 10))
	}
	return b.String()
}

// PackedToIP 将打包地址转换为 net.IP
func PackedToIP(addr uint32) net.IP {
	return net.IPv4(byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24)).To4()
}

// IPToPacked 将 IPv4 地址转换为打包地址，非 IPv4 地址返回 false
func IPToPacked(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0]) | uint32(v4[1])<<8 | uint32(v4[2])<<16 | uint32(v4[3])<<24, true
}

// UDPAddrToPacked 返回 UDP 地址的打包形式和端口
func UDPAddrToPacked(addr *net.UDPAddr) (uint32, int, bool) {
	if addr == nil {
		return 0, 0, false
	}
	packed, ok := IPToPacked(addr.IP)
	return packed, addr.Port, ok
}

// PackedToUDPAddr 由打包地址和端口构造 UDP 地址
func PackedToUDPAddr(addr uint32, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: PackedToIP(addr), Port: port}
}
