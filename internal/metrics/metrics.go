// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、クリーンアップ処理から利用する。
type MetricsCollector interface {
	RecordMemoSave(created bool)
	RecordMemoValidationFailure()
	RecordLogin(success bool)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	memoSaves          *prometheus.CounterVec
	memoValidationFail prometheus.Counter
	logins             *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
	sessionsCleaned    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		memoSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quieted_memo_saves_total",
			Help: "メモ保存の合計数（作成/更新別）",
		}, []string{"result"}),
		memoValidationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quieted_memo_validation_failures_total",
			Help: "入力検証で拒否されたメモ保存の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quieted_logins_total",
			Help: "Googleログインの合計数（成功/失敗別）",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quieted_http_requests_total",
			Help: "HTTPメソッドとステータスコード別のリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quieted_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quieted_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.memoSaves,
		c.memoValidationFail,
		c.logins,
		c.httpRequests,
		c.httpLatency,
		c.sessionsCleaned,
	)

	return c
}

// RecordMemoSave はメモ保存を記録する。
func (c *Collector) RecordMemoSave(created bool) {
	result := "updated"
	if created {
		result = "created"
	}
	c.memoSaves.WithLabelValues(result).Inc()
}

// RecordMemoValidationFailure は入力検証エラーを記録する。
func (c *Collector) RecordMemoValidationFailure() {
	c.memoValidationFail.Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPRequest はHTTPリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordMemoSave(bool) {}
func (Noop) RecordMemoValidationFailure() {}
func (Noop) RecordLogin(bool) {}
func (Noop) RecordHTTPRequest(string, int, time.Duration) {}
func (Noop) RecordSessionsCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusWriter はステータスコードを記録するResponseWriterラッパー。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware は全リクエストのステータスコードと処理時間を記録するミドルウェアを返す。
func Middleware(c MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.RecordHTTPRequest(r.Method, sw.status, time.Since(start))
		})
	}
}
