package addrcodec

import (
	"fmt"
	"net"
)

// LocalAddressFunc 返回本机当前打包地址
//
// 移动代理通过它探测自身地址变化，测试中可替换。
type LocalAddressFunc func() (uint32, error)

// CurrentLocalAddress 返回本机第一个首段大于 127 的 IPv4 接口地址
//
// 首段即打包地址的最低字节。回环地址和 10.0.0.0/8 等首段较小的地址因此被跳过。
// 没有符合条件的地址时返回 ErrNoInterfaceFound。
func CurrentLocalAddress() (uint32, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Debug("获取网络接口失败", "err", err)
		return 0, fmt.Errorf("%w: %v", ErrNoInterfaceFound, err)
	}

	var addrs []net.Addr
	for _, iface := range ifaces {
		ifAddrs, err := iface.Addrs()
		if err != nil {
			log.Debug("获取接口地址失败", "iface", iface.Name, "err", err)
			continue
		}
		addrs = append(addrs, ifAddrs...)
	}

	return SelectLocalAddress(addrs)
}

// SelectLocalAddress 按 CurrentLocalAddress 的规则从给定地址中挑选
func SelectLocalAddress(addrs []net.Addr) (uint32, error) {
	for _, addr := range addrs {
		ip := extractIP(addr)
		if ip == nil {
			continue
		}
		packed, ok := IPToPacked(ip)
		if !ok {
			continue
		}
		if packed&0xFF > 127 {
			return packed, nil
		}
	}
	return 0, ErrNoInterfaceFound
}

func extractIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		return nil
	}
}
