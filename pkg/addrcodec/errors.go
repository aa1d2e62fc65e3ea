package addrcodec

import "errors"

var (
	// ErrMalformedAddress 地址文本不是四段点分数字
	ErrMalformedAddress = errors.New("addrcodec: malformed address")

	// ErrNoInterfaceFound 没有符合条件的本机接口地址
	ErrNoInterfaceFound = errors.New("addrcodec: no interface found")

	// ErrHostNotFound 反向解析没有结果
	ErrHostNotFound = errors.New("addrcodec: host not found")
)
