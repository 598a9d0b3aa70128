// Package metrics はコマンド処理とセッションの Prometheus メトリクスを提供する
//
// すべてのメソッドは nil レシーバでも安全に呼び出せる。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camrtmp"

// Metrics はメトリクスのコレクタとレジストリを保持する
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	sessionState      *prometheus.GaugeVec
	permissionResults *prometheus.CounterVec
	streamsStarted    prometheus.Counter
	rtmpEvents        *prometheus.CounterVec
	streamBitrate     prometheus.Gauge
}

// New は新しいレジストリにメトリクスを登録して返す
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of channel commands handled",
			},
			[]string{"method", "outcome"}, // outcome: success, error, not_implemented, fatal, timeout
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration from command receipt to result in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		sessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "Current session lifecycle state (1 for the active state)",
			},
			[]string{"state"},
		),
		permissionResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_results_total",
				Help:      "Total number of completed permission requests",
			},
			[]string{"result"}, // result: granted, denied
		),
		streamsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_started_total",
				Help:      "Total number of RTMP streams started",
			},
		),
		rtmpEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rtmp_events_total",
				Help:      "Total number of RTMP connection events",
			},
			[]string{"event"},
		),
		streamBitrate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_bitrate_bits_per_second",
				Help:      "Last reported RTMP output bitrate",
			},
		),
	}

	m.registry.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.sessionState,
		m.permissionResults,
		m.streamsStarted,
		m.rtmpEvents,
		m.streamBitrate,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry は内部のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のハンドラーを返す
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveCommand はコマンドの結果と所要時間を記録する
func (m *Metrics) ObserveCommand(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(method, outcome).Inc()
	m.commandDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetSessionState は現在の状態を1、それ以外を0にする
func (m *Metrics) SetSessionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.sessionState.WithLabelValues(s).Set(value)
	}
}

// ObservePermission はパーミッション要求の結果を記録する
func (m *Metrics) ObservePermission(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.permissionResults.WithLabelValues(result).Inc()
}

// StreamStarted は送出開始を記録する
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.streamsStarted.Inc()
}

// ObserveRTMPEvent はRTMP接続イベントを記録する
func (m *Metrics) ObserveRTMPEvent(event string) {
	if m == nil {
		return
	}
	m.rtmpEvents.WithLabelValues(event).Inc()
}

// SetBitrate は最新の送出ビットレートを記録する
func (m *Metrics) SetBitrate(bitsPerSecond int64) {
	if m == nil {
		return
	}
	m.streamBitrate.Set(float64(bitsPerSecond))
}
