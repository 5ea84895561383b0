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
// サービス層、ワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordPostCreated(kind string)
	RecordFloodRejected()
	RecordConflictRetry(operation string)
	RecordNotification(sink string, ok bool)
	RecordCleanupDeleted(kind string, count int64)
	RecordCleanupDuration(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// 投稿の種類ラベル
const (
	KindThread = "thread"
	KindReply  = "reply"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	postsCreated    *prometheus.CounterVec
	floodRejected   prometheus.Counter
	conflictRetries *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	cleanupDeleted  *prometheus.CounterVec
	cleanupDuration prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumd_posts_created_total",
			Help: "作成された投稿の合計数（種類別）",
		}, []string{"kind"}),
		floodRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forumd_flood_rejected_total",
			Help: "連続投稿制限で拒否された投稿の合計数",
		}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumd_conflict_retries_total",
			Help: "競合による再試行の合計数（操作別）",
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumd_notifications_total",
			Help: "通知配信の合計数（シンク・結果別）",
		}, []string{"sink", "result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumd_cleanup_deleted_total",
			Help: "メンテナンスで物理削除された行の合計数（種類別）",
		}, []string{"kind"}),
		cleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forumd_cleanup_duration_seconds",
			Help:    "メンテナンス1回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.postsCreated,
		c.floodRejected,
		c.conflictRetries,
		c.notifications,
		c.cleanupDeleted,
		c.cleanupDuration,
		c.httpStatus,
	)

	return c
}

// RecordPostCreated は投稿の作成を記録する。
func (c *Collector) RecordPostCreated(kind string) {
	c.postsCreated.WithLabelValues(kind).Inc()
}

// RecordFloodRejected は連続投稿制限による拒否を記録する。
func (c *Collector) RecordFloodRejected() {
	c.floodRejected.Inc()
}

// RecordConflictRetry は競合による再試行を記録する。
func (c *Collector) RecordConflictRetry(operation string) {
	c.conflictRetries.WithLabelValues(operation).Inc()
}

// RecordNotification は通知配信の結果を記録する。
func (c *Collector) RecordNotification(sink string, ok bool) {
	result := "delivered"
	if !ok {
		result = "failed"
	}
	c.notifications.WithLabelValues(sink, result).Inc()
}

// RecordCleanupDeleted はメンテナンスの削除件数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// RecordCleanupDuration はメンテナンスの所要時間を記録する。
func (c *Collector) RecordCleanupDuration(duration time.Duration) {
	c.cleanupDuration.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordPostCreated(string)            {}
func (Nop) RecordFloodRejected()                {}
func (Nop) RecordConflictRetry(string)          {}
func (Nop) RecordNotification(string, bool)     {}
func (Nop) RecordCleanupDeleted(string, int64)  {}
func (Nop) RecordCleanupDuration(time.Duration) {}
func (Nop) RecordHTTPStatus(int)                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
