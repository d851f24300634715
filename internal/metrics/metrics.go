// Package metrics はゲームサーバーの Prometheus メトリクスを収集します。
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gitris"

// 入力の処理結果ラベル
const (
	InputApplied  = "applied"
	InputRejected = "rejected"
	InputDropped  = "dropped"
)

// Collector はセッション・入力・HTTPのメトリクスをまとめたものです。
// nil の Collector に対する記録はすべて何もしません。
type Collector struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	connectedClients prometheus.Gauge
	sessionsTotal    *prometheus.CounterVec
	gameOvers        prometheus.Counter
	linesCleared     prometheus.Counter
	inputs           *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector は専用の Registry を持つ Collector を作成します。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Current number of live game sessions.",
	})
	c.connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "connected_clients",
		Help:      "Current number of attached WebSocket clients.",
	})
	c.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "ended_total",
		Help:      "Total number of removed sessions by reason.",
	}, []string{"reason"})
	c.gameOvers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "game_overs_total",
		Help:      "Total number of games that reached game over.",
	})
	c.linesCleared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "lines_cleared_total",
		Help:      "Total number of cleared rows across all sessions.",
	})
	c.inputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "inputs_total",
		Help:      "Total number of player inputs by action and result.",
	}, []string{"action", "result"})

	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})
	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})
	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
	}, []string{"method", "path"})

	c.registry.MustRegister(
		c.activeSessions,
		c.connectedClients,
		c.sessionsTotal,
		c.gameOvers,
		c.linesCleared,
		c.inputs,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry は収集先の Registry を返します。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用の HTTP ハンドラーを返します。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SessionStarted はセッション作成を記録します。
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionEnded はセッション削除を理由付きで記録します。
func (c *Collector) SessionEnded(reason string) {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
	c.sessionsTotal.WithLabelValues(reason).Inc()
}

// ClientConnected / ClientDisconnected は接続中クライアント数を増減します。
func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.connectedClients.Inc()
}

func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.connectedClients.Dec()
}

// GameOver はゲームオーバーを記録します。
func (c *Collector) GameOver() {
	if c == nil {
		return
	}
	c.gameOvers.Inc()
}

// LinesCleared はクリアされた行数を加算します。
func (c *Collector) LinesCleared(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.linesCleared.Add(float64(n))
}

// Input はプレイヤー入力の処理結果を記録します。
func (c *Collector) Input(action, result string) {
	if c == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	c.inputs.WithLabelValues(action, result).Inc()
}

// InstrumentHandler は HTTP リクエストの件数と所要時間を記録するミドルウェアです。
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		c.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack は WebSocket のアップグレードに必要です。
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// canonicalPath はセッションIDなどの可変部分を潰してラベルの種類を抑えます。
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i-1] == "sessions" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
