package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// Authentication
	RecordLogin(success bool)
	RecordLogout()

	// Authorization flow
	RecordAuthorizationCodeIssued(success bool)
	RecordCodeExchange(result string)
	RecordTokenRefresh(result string)
	RecordTokenValidation(result string)

	// Session Management
	RecordSessionRevoked(reason string)

	// Metered proxy
	RecordProxyRequest(provider, status string, duration time.Duration)
	RecordUsageMetered(provider, model string, inputTokens, outputTokens int64)
	RecordTransaction(status string)
	RecordInsufficientBalance()

	// Gauge Setters (for periodic updates)
	SetActiveSessionsCount(count int64)
	SetActiveRefreshTokensCount(count int64)

	// Database Operations
	RecordDatabaseQueryError(operation string)
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Authentication Metrics
	LoginTotal  *prometheus.CounterVec
	LogoutTotal prometheus.Counter

	// Authorization Flow Metrics
	AuthorizationCodesTotal *prometheus.CounterVec
	CodeExchangeTotal       *prometheus.CounterVec
	TokenRefreshTotal       *prometheus.CounterVec
	TokenValidationTotal    *prometheus.CounterVec

	// Session Metrics
	SessionsActive       prometheus.Gauge
	SessionsRevokedTotal *prometheus.CounterVec
	RefreshTokensActive  prometheus.Gauge

	// Proxy Metrics
	ProxyRequestsTotal       *prometheus.CounterVec
	ProxyRequestDuration     *prometheus.HistogramVec
	MeteredTokensTotal       *prometheus.CounterVec
	TransactionsTotal        *prometheus.CounterVec
	InsufficientBalanceTotal prometheus.Counter

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database Query Metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag.
// If enabled=false, returns NoopMetrics (zero overhead).
// Uses sync.Once to ensure Prometheus metrics are only registered once.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

// initMetrics creates and registers all Prometheus metrics
func initMetrics() *Metrics {
	return &Metrics{
		LoginTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_total",
				Help: "Total number of login attempts",
			},
			[]string{"result"}, // success, failure
		),
		LogoutTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_logout_total",
				Help: "Total number of logouts",
			},
		),
		AuthorizationCodesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_authorization_codes_total",
				Help: "Total number of authorization codes minted",
			},
			[]string{"result"}, // success, error
		),
		CodeExchangeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_code_exchange_total",
				Help: "Total number of authorization code exchanges",
			},
			[]string{"result"}, // success, invalid_grant, error
		),
		TokenRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_token_refresh_total",
				Help: "Total number of refresh token rotations",
			},
			[]string{"result"}, // success, invalid_grant, error
		),
		TokenValidationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_token_validation_total",
				Help: "Total number of access token validations",
			},
			[]string{"result"}, // valid, invalid, expired
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Current number of active sessions",
			},
		),
		SessionsRevokedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_revoked_total",
				Help: "Total number of sessions revoked",
			},
			[]string{"reason"}, // user, admin, cleanup
		),
		RefreshTokensActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "refresh_tokens_active",
				Help: "Current number of active refresh tokens",
			},
		),
		ProxyRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of proxied upstream requests",
			},
			[]string{"provider", "status"},
		),
		ProxyRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_duration_seconds",
				Help:    "Upstream request latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		MeteredTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metered_tokens_total",
				Help: "Total number of LLM tokens metered",
			},
			[]string{"provider", "model", "direction"}, // direction: input, output
		),
		TransactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_total",
				Help: "Total number of usage transactions recorded",
			},
			[]string{"status"}, // completed, failed
		),
		InsufficientBalanceTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "insufficient_balance_total",
				Help: "Total number of requests rejected for insufficient balance",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request latency in seconds",
				Buckets: []float64{
					0.001, 0.005, 0.010, 0.025, 0.050,
					0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
				},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),
		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_query_errors_total",
				Help: "Total number of database query errors during metric collection",
			},
			[]string{"operation"},
		),
	}
}
