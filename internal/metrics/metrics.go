// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultUnavailable = "unavailable"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Session Provider、Item Repository、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthOperation(op, result string)
	RecordItemOperation(op, result string)
	RecordBootstrap(result string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	SetLiveClients(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOps      *prometheus.CounterVec
	itemOps      *prometheus.CounterVec
	bootstrap    *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	liveClients  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewear_auth_operations_total",
			Help: "認証操作（signup/signin/signout/reset_password/restore）の結果別合計数",
		}, []string{"op", "result"}),
		itemOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewear_item_operations_total",
			Help: "アイテム操作（fetch/add/update/delete）の結果別合計数",
		}, []string{"op", "result"}),
		bootstrap: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewear_account_bootstrap_total",
			Help: "アカウント行ブートストラップの結果別合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewear_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewear_item_fetch_latency_seconds",
			Help:    "アイテム一覧取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewear_live_clients",
			Help: "保持しているクライアントインスタンス数",
		}),
	}

	reg.MustRegister(
		c.authOps,
		c.itemOps,
		c.bootstrap,
		c.httpStatus,
		c.fetchLatency,
		c.liveClients,
	)

	return c
}

// RecordAuthOperation は認証操作の結果を記録する。
func (c *Collector) RecordAuthOperation(op, result string) {
	c.authOps.WithLabelValues(op, result).Inc()
}

// RecordItemOperation はアイテム操作の結果を記録する。
func (c *Collector) RecordItemOperation(op, result string) {
	c.itemOps.WithLabelValues(op, result).Inc()
}

// RecordBootstrap はアカウント行ブートストラップの結果を記録する。
func (c *Collector) RecordBootstrap(result string) {
	c.bootstrap.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はアイテム一覧取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// SetLiveClients は保持しているクライアントインスタンス数を設定する。
func (c *Collector) SetLiveClients(count int) {
	c.liveClients.Set(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAuthOperation(string, string) {}
func (Nop) RecordItemOperation(string, string) {}
func (Nop) RecordBootstrap(string)             {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordFetchLatency(time.Duration)   {}
func (Nop) SetLiveClients(int)                 {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
