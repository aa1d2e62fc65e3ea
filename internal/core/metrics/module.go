package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-permip/config"
	"github.com/dep2p/go-permip/internal/util/logger"
)

var log = logger.Logger("metrics")

// Config 指标配置
type Config struct {
	// Enabled 是否启用指标收集
	Enabled bool

	// ListenAddr /metrics 监听地址，空表示不暴露
	ListenAddr string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled: true,
	}
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Enabled:    cfg.Metrics.Enabled,
		ListenAddr: cfg.Metrics.ListenAddr,
	}
}

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Metrics 导出结果
type Result struct {
	fx.Out

	Reporter  Reporter
	Collector *Collector
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// NewFromParams 从参数创建 Reporter
//
// 指标关闭时 Reporter 为 Nop，Collector 为 nil。
func NewFromParams(p Params) Result {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if !cfg.Enabled {
		return Result{Reporter: Nop{}}
	}
	c := NewCollector()
	return Result{Reporter: c, Collector: c}
}

type lifecycleParams struct {
	fx.In

	LC         fx.Lifecycle
	Collector  *Collector     `optional:"true"`
	UnifiedCfg *config.Config `optional:"true"`
}

// registerLifecycle 在配置了监听地址时启动 /metrics HTTP 服务
func registerLifecycle(p lifecycleParams) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if p.Collector == nil || cfg.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			log.Info("指标端点已启动", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("指标服务已停止", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
