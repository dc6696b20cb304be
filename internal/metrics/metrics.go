// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 検索APIクライアントと取り込みパイプラインの両方から利用する。
type Collector struct {
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	fetchSuccess      *prometheus.CounterVec
	fetchFail         *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	itemsStored       prometheus.Counter
	visibilityCreated prometheus.Counter
	emails            *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_pipeline_runs_total",
			Help: "取り込みパイプラインの実行回数（結果別）",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwatch_pipeline_run_duration_seconds",
			Help:    "取り込みパイプライン1回の所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		fetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_fetch_success_total",
			Help: "サブレディット取得成功の合計数",
		}, []string{"subreddit"}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_fetch_fail_total",
			Help: "サブレディット取得失敗の合計数",
		}, []string{"subreddit"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_search_http_status_total",
			Help: "検索APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwatch_search_latency_seconds",
			Help:    "検索APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_items_stored_total",
			Help: "取得して保存処理したコンテンツの合計数",
		}),
		visibilityCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_visibility_created_total",
			Help: "新規に作成されたテナント可視状態の合計数",
		}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_digest_emails_total",
			Help: "ダイジェストメールの送信結果別の件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.itemsStored,
		c.visibilityCreated,
		c.emails,
	)

	return c
}

// RecordRun はパイプライン1回分の結果と所要時間を記録する。
func (c *Collector) RecordRun(status string, duration time.Duration) {
	c.runs.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordFetchSuccess は取得成功を記録する。
func (c *Collector) RecordFetchSuccess(subreddit string) {
	c.fetchSuccess.WithLabelValues(subreddit).Inc()
}

// RecordFetchFailure は取得失敗を記録する。
// reasonはカーディナリティが高いためラベルにしない。
func (c *Collector) RecordFetchFailure(subreddit string, reason string) {
	c.fetchFail.WithLabelValues(subreddit).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordItemsStored は保存処理したコンテンツ数を記録する。
func (c *Collector) RecordItemsStored(count int) {
	c.itemsStored.Add(float64(count))
}

// RecordVisibilityCreated は新規可視状態の数を記録する。
func (c *Collector) RecordVisibilityCreated(count int) {
	c.visibilityCreated.Add(float64(count))
}

// RecordEmails はダイジェスト送信の結果を記録する。
func (c *Collector) RecordEmails(sent, skipped int) {
	c.emails.WithLabelValues("sent").Add(float64(sent))
	c.emails.WithLabelValues("skipped").Add(float64(skipped))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
