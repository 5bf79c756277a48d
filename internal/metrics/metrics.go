// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// タスク操作の結果ラベル。
const (
	ResultOK        = "ok"
	ResultInvalid   = "invalid"
	ResultNotFound  = "not_found"
	ResultForbidden = "forbidden"
	ResultError     = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordTodoOperation(operation, result string)
	RecordLoginAttempt(success bool)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	todoOps         *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		todoOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_todo_operations_total",
			Help: "タスク操作の件数（操作・結果別）",
		}, []string{"operation", "result"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_login_attempts_total",
			Help: "ログイン試行の件数（結果別）",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_http_requests_total",
			Help: "HTTPリクエスト数（メソッド・ステータスコード別）",
		}, []string{"method", "status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "todoman_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.todoOps,
		c.loginAttempts,
		c.httpRequests,
		c.requestLatency,
		c.sessionsCleaned,
	)

	return c
}

// RecordTodoOperation はタスク操作の結果を記録する。
func (c *Collector) RecordTodoOperation(operation, result string) {
	c.todoOps.WithLabelValues(operation, result).Inc()
}

// RecordLoginAttempt はログイン試行を記録する。
func (c *Collector) RecordLoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttempts.WithLabelValues(result).Inc()
}

// RecordHTTPRequest はHTTPリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordTodoOperation(string, string)           {}
func (Noop) RecordLoginAttempt(bool)                      {}
func (Noop) RecordHTTPRequest(string, int, time.Duration) {}
func (Noop) RecordSessionsCleaned(int64)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
