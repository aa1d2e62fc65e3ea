package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 是支持 YAML 字符串解析的 time.Duration 包装类型
//
// 支持的格式:
//   - 字符串: "30s", "5m", "500us" 等
//   - 整数: 纳秒数
//
// 使用示例:
//
//	type Config struct {
//	    Timeout Duration `yaml:"timeout"`
//	}
//
//	// YAML: timeout: 30s
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler 接口
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %v at line %d", node.Tag, node.Line)
	}

	if node.Tag == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}

	duration, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", node.Value, err)
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML 实现 yaml.Marshaler 接口
//
// 输出为人类可读的字符串格式
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration 返回底层的 time.Duration 值
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String 返回字符串表示
func (d Duration) String() string {
	return time.Duration(d).String()
}
