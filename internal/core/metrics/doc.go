// Package metrics 提供 permip 的 Prometheus 指标
//
// 服务通过 Reporter 接口记录事件，不直接依赖 Prometheus：
//
//	m := metrics.NewCollector()
//	m.RequestHandled("resolver", "lookup", "hit", time.Since(start))
//
//	http.Handle("/metrics", m.Handler())
//
// 指标关闭时使用 Nop，所有方法为空操作。
//
// # 指标
//
//   - permip_requests_total{service,op,result}
//   - permip_request_duration_seconds{service,op}
//   - permip_requests_dropped_total{service,reason}
//   - permip_pushes_total{result}
//   - permip_registrations / permip_subscriptions
//   - permip_agent_events_total{event}
package metrics
