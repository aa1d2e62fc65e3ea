package permip

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/app/echo"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 统一配置
	config *config.Config

	// 启用的角色
	roles []Role

	// fx 事件日志
	fxLogger *zap.Logger

	// 代理与回显应用的时间来源，nil 表示真实时钟
	clock clock.Clock

	// 回显应用事件回调
	echoEvents echo.EventHandler

	// 用户扩展
	fxOptions []fx.Option
}

func newOptions() *options {
	return &options{
		config:   config.NewConfig(),
		fxLogger: zap.NewNop(),
	}
}

// WithConfig 使用给定的统一配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 YAML 文件加载统一配置
//
// 文件中未出现的字段使用默认值，环境变量 PERMIP_* 覆盖文件中的值。
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		o.config = cfg
		return nil
	}
}

// WithRoles 设置节点运行的角色
func WithRoles(roles ...Role) Option {
	return func(o *options) error {
		for _, r := range roles {
			if !r.valid() {
				return fmt.Errorf("%w: %d", ErrUnknownRole, r)
			}
		}
		o.roles = append(o.roles, roles...)
		return nil
	}
}

// WithFxLogger 使用 zap 记录 fx 容器事件，默认不输出
func WithFxLogger(l *zap.Logger) Option {
	return func(o *options) error {
		if l == nil {
			l = zap.NewNop()
		}
		o.fxLogger = l
		return nil
	}
}

// WithClock 设置代理与回显应用的时间来源
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithEchoEvents 设置回显应用事件回调
func WithEchoEvents(fn func(echo.Event)) Option {
	return func(o *options) error {
		o.echoEvents = fn
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
