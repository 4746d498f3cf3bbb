// Package metrics 进程内 Prometheus 指标，经 /metrics 暴露。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal 按房间、类型统计归一化后的事件
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blive",
		Name:      "events_total",
		Help:      "normalized events by room and type",
	}, []string{"room", "type"})

	// DroppedEventsTotal 因订阅者缓冲写满而丢弃的事件
	DroppedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blive",
		Name:      "dropped_events_total",
		Help:      "events dropped due to slow subscribers",
	}, []string{"room"})

	// ConnectionsActive 当前保持的上游连接数
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blive",
		Name:      "connections_active",
		Help:      "active upstream danmaku connections",
	})

	// ReconnectsTotal 意外断开后的重连次数
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blive",
		Name:      "reconnects_total",
		Help:      "reconnect attempts after unexpected close",
	}, []string{"room"})

	// SubscribersActive 当前下游订阅者数量
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blive",
		Name:      "subscribers_active",
		Help:      "active downstream subscribers",
	})

	// UpstreamBytesTotal 弹幕连接上收发的 TCP 字节数
	UpstreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blive",
		Name:      "upstream_bytes_total",
		Help:      "TCP bytes on upstream danmaku connections",
	}, []string{"direction"})
)

// Handler /metrics 的 HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
