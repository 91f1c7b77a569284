// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・登録の結果ラベル
const (
	OutcomeSuccess      = "success"
	OutcomeValidation   = "validation"
	OutcomeUpstreamAuth = "upstream_auth"
	OutcomeIdentity     = "identity"
	OutcomeRegistration = "registration"
	OutcomeConflict     = "conflict"
	OutcomeSystem       = "system"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
	RecordSessionIssued(rememberMe bool)
	RecordProfileFallback()
	RecordProviderLatency(provider, operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	profileFallback prometheus.Counter
	providerLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilbff_auth_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilbff_auth_register_total",
			Help: "結果別の会員登録試行数",
		}, []string{"outcome"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilbff_sessions_issued_total",
			Help: "発行したセッション数",
		}, []string{"remember_me"}),
		profileFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mobilbff_auth_profile_fallback_total",
			Help: "プロフィール取得に失敗しトークン情報のみでログインした数",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mobilbff_provider_latency_seconds",
			Help:    "外部プロバイダ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilbff_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mobilbff_sessions_purged_total",
			Help: "クリーンアップで削除した期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.sessionsIssued,
		c.profileFallback,
		c.providerLatency,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration は会員登録結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued(rememberMe bool) {
	c.sessionsIssued.WithLabelValues(strconv.FormatBool(rememberMe)).Inc()
}

// RecordProfileFallback はプロフィール取得失敗時のフォールバックを記録する。
func (c *Collector) RecordProfileFallback() {
	c.profileFallback.Inc()
}

// RecordProviderLatency は外部プロバイダ呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider, operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordRegistration(string) {}
func (Nop) RecordSessionIssued(bool) {}
func (Nop) RecordProfileFallback() {}
func (Nop) RecordProviderLatency(string, string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsPurged(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerサブコマンドのようにルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
