package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 报文错误
var (
	// ErrEmptyName 空名称
	ErrEmptyName = errors.New("protocol: empty name")

	// ErrNameTooLong 名称超过单个报文可承载的长度
	ErrNameTooLong = errors.New("protocol: name too long")

	// ErrInvalidName 名称中含有 NUL 或空白
	ErrInvalidName = errors.New("protocol: invalid name")

	// ErrMalformedReply 注册应答格式错误
	ErrMalformedReply = errors.New("protocol: malformed registration reply")
)

// Decode 返回报文中第一个 NUL 之前的内容
func Decode(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Encode 将字符串编码为带结尾 NUL 的报文
//
// 请求和推送使用此格式，不补齐。
func Encode(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// Pad 将字符串编码为 MaxDatagramSize 字节、以 NUL 补齐的应答报文
//
// 超长内容被截断，保证报文中至少含一个 NUL。
func Pad(s string) []byte {
	b := make([]byte, MaxDatagramSize)
	copy(b[:MaxDatagramSize-1], s)
	return b
}

// ValidateName 检查逻辑名称能否放进一个报文
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrEmptyName
	case len(name) >= MaxDatagramSize:
		return ErrNameTooLong
	case strings.ContainsAny(name, "\x00 \t\r\n"):
		return ErrInvalidName
	}
	return nil
}

// FormatRegistrationReply 生成注册应答 "<name> <packed>"
func FormatRegistrationReply(name string, packed uint32) string {
	return name + " " + strconv.FormatUint(uint64(packed), 10)
}

// ParseRegistrationReply 解析注册应答，返回名称和服务端观察到的打包地址
func ParseRegistrationReply(reply string) (string, uint32, error) {
	i := strings.LastIndexByte(reply, ' ')
	if i <= 0 || i == len(reply)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedReply, reply)
	}

	packed, err := strconv.ParseUint(reply[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return reply[:i], uint32(packed), nil
}
