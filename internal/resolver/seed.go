package resolver

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dep2p/go-permip/pkg/addrcodec"
	"github.com/dep2p/go-permip/pkg/protocol"
)

// seedFile 名称表文件格式
//
//	names:
//	  python: 128.36.232.37
//	  tick: 128.36.232.37
type seedFile struct {
	Names map[string]string `yaml:"names"`
}

// LoadSeedFile 读取并校验名称表文件
func LoadSeedFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed 解析并校验名称表
//
// 每个名称必须能放进一个报文，每个地址必须是四段点分数字。
// 空文档或缺少 names 键视为无效，清空名称表需要显式写 "names: {}"。
// 写入文件时会先截断，监听方可能读到空文件，不能把它当作空表。
func ParseSeed(data []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSeed)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if f.Names == nil {
		return nil, fmt.Errorf("%w: missing names", ErrInvalidSeed)
	}

	names := make(map[string]string, len(f.Names))
	for name, addr := range f.Names {
		if err := protocol.ValidateName(name); err != nil {
			return nil, fmt.Errorf("%w: name %q: %v", ErrInvalidSeed, name, err)
		}
		if _, err := addrcodec.TextToPacked(addr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
		}
		names[name] = addr
	}
	return names, nil
}
