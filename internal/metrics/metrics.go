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
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordAccessRequestTransition(status string)
	RecordPrediction(label string, stored bool)
	RecordInferenceFailure()
	RecordInferenceLatency(duration time.Duration)
	RecordStorageDegraded()
	RecordLogin(result string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	accessRequestTransitions *prometheus.CounterVec
	predictions              *prometheus.CounterVec
	inferenceFailures        prometheus.Counter
	inferenceLatency         prometheus.Histogram
	storageDegraded          prometheus.Counter
	logins                   *prometheus.CounterVec
	httpStatus               *prometheus.CounterVec
	sessionsCleaned          prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		accessRequestTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eyescreen_access_request_transitions_total",
			Help: "利用申請の状態遷移数（遷移先の状態別）",
		}, []string{"status"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eyescreen_predictions_total",
			Help: "判定結果の合計数（ラベル・保存有無別）",
		}, []string{"label", "stored"}),
		inferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eyescreen_inference_failures_total",
			Help: "推論呼び出し失敗の合計数",
		}),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eyescreen_inference_latency_seconds",
			Help:    "推論呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		storageDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eyescreen_storage_degraded_total",
			Help: "画像保存または履歴記録に失敗した判定の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eyescreen_logins_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eyescreen_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eyescreen_expired_sessions_deleted_total",
			Help: "クリーンアップジョブが削除した期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.accessRequestTransitions,
		c.predictions,
		c.inferenceFailures,
		c.inferenceLatency,
		c.storageDegraded,
		c.logins,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordAccessRequestTransition は利用申請の状態遷移を記録する。
func (c *Collector) RecordAccessRequestTransition(status string) {
	c.accessRequestTransitions.WithLabelValues(status).Inc()
}

// RecordPrediction は判定結果を記録する。
func (c *Collector) RecordPrediction(label string, stored bool) {
	c.predictions.WithLabelValues(label, strconv.FormatBool(stored)).Inc()
}

// RecordInferenceFailure は推論失敗を記録する。
func (c *Collector) RecordInferenceFailure() {
	c.inferenceFailures.Inc()
}

// RecordInferenceLatency は推論呼び出しのレイテンシを記録する。
func (c *Collector) RecordInferenceLatency(duration time.Duration) {
	c.inferenceLatency.Observe(duration.Seconds())
}

// RecordStorageDegraded は保存できなかった判定を記録する。
func (c *Collector) RecordStorageDegraded() {
	c.storageDegraded.Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を加算する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	if count > 0 {
		c.sessionsCleaned.Add(float64(count))
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントのみを提供するHTTPハンドラーを返す。
// APIルーターを持たないworkerプロセスのスクレイプ用。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
