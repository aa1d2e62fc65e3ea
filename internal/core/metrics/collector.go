package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "permip"

// Collector 基于 Prometheus 的 Reporter
//
// 每个 Collector 使用独立的 Registry，测试之间互不影响。
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	pushes          *prometheus.CounterVec
	registrations   prometheus.Gauge
	subscriptions   prometheus.Gauge
	agentEvents     *prometheus.CounterVec
}

// NewCollector 创建 Collector 并注册所有指标
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of answered datagram requests.",
			},
			[]string{"service", "op", "result"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent handling a datagram request.",
				// 10us .. ~160ms
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
			},
			[]string{"service", "op"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_dropped_total",
				Help:      "Datagram requests dropped without a reply.",
			},
			[]string{"service", "reason"},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_total",
				Help:      "Address change pushes sent to subscribers.",
			},
			[]string{"result"},
		),
		registrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations",
			Help:      "Names currently registered at this rendezvous point.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Subscriptions currently held at this rendezvous point.",
		}),
		agentEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_events_total",
				Help:      "Mobility agent events.",
			},
			[]string{"event"},
		),
	}

	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.dropped,
		c.pushes,
		c.registrations,
		c.subscriptions,
		c.agentEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RequestHandled 实现 Reporter
func (c *Collector) RequestHandled(service, op, result string, d time.Duration) {
	c.requests.WithLabelValues(service, op, result).Inc()
	c.requestDuration.WithLabelValues(service, op).Observe(d.Seconds())
}

// RequestDropped 实现 Reporter
func (c *Collector) RequestDropped(service, reason string) {
	c.dropped.WithLabelValues(service, reason).Inc()
}

// PushSent 实现 Reporter
func (c *Collector) PushSent(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.pushes.WithLabelValues(result).Inc()
}

// SetRegistrations 实现 Reporter
func (c *Collector) SetRegistrations(n int) {
	c.registrations.Set(float64(n))
}

// SetSubscriptions 实现 Reporter
func (c *Collector) SetSubscriptions(n int) {
	c.subscriptions.Set(float64(n))
}

// AgentEvent 实现 Reporter
func (c *Collector) AgentEvent(event string) {
	c.agentEvents.WithLabelValues(event).Inc()
}
