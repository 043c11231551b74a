package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	resultSuccess = "success"
	resultError   = "error"
	resultFailure = "failure"
)

// HTTPMetricsMiddleware creates a Gin middleware that records HTTP metrics
func HTTPMetricsMiddleware(m Recorder) gin.HandlerFunc {
	// Only the concrete Prometheus implementation records request metrics
	metrics, ok := m.(*Metrics)
	if !ok {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// Skip metrics endpoint to avoid self-recording
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		path := c.FullPath() // route pattern, not actual path
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordLogin records a login attempt
func (m *Metrics) RecordLogin(success bool) {
	result := resultSuccess
	if !success {
		result = resultFailure
	}
	m.LoginTotal.WithLabelValues(result).Inc()
}

// RecordLogout records a logout
func (m *Metrics) RecordLogout() {
	m.LogoutTotal.Inc()
}

// RecordAuthorizationCodeIssued records an authorization code mint
func (m *Metrics) RecordAuthorizationCodeIssued(success bool) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	m.AuthorizationCodesTotal.WithLabelValues(result).Inc()
}

// RecordCodeExchange records a code exchange result
func (m *Metrics) RecordCodeExchange(result string) {
	// result: success, invalid_grant, error
	m.CodeExchangeTotal.WithLabelValues(result).Inc()
}

// RecordTokenRefresh records a refresh rotation result
func (m *Metrics) RecordTokenRefresh(result string) {
	m.TokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordTokenValidation records an access token validation
func (m *Metrics) RecordTokenValidation(result string) {
	// result: valid, invalid, expired
	m.TokenValidationTotal.WithLabelValues(result).Inc()
}

// RecordSessionRevoked records a session revocation
func (m *Metrics) RecordSessionRevoked(reason string) {
	m.SessionsRevokedTotal.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

// RecordProxyRequest records one proxied upstream call
func (m *Metrics) RecordProxyRequest(provider, status string, duration time.Duration) {
	m.ProxyRequestsTotal.WithLabelValues(provider, status).Inc()
	m.ProxyRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordUsageMetered records the token counts extracted from one response
func (m *Metrics) RecordUsageMetered(provider, model string, inputTokens, outputTokens int64) {
	m.MeteredTokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.MeteredTokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordTransaction records a finalized usage transaction
func (m *Metrics) RecordTransaction(status string) {
	m.TransactionsTotal.WithLabelValues(status).Inc()
}

// RecordInsufficientBalance records a request rejected at the balance gate
func (m *Metrics) RecordInsufficientBalance() {
	m.InsufficientBalanceTotal.Inc()
}

// SetActiveSessionsCount sets the current count of active sessions (for periodic updates)
func (m *Metrics) SetActiveSessionsCount(count int64) {
	m.SessionsActive.Set(float64(count))
}

// SetActiveRefreshTokensCount sets the current count of active refresh tokens
func (m *Metrics) SetActiveRefreshTokensCount(count int64) {
	m.RefreshTokensActive.Set(float64(count))
}

// RecordDatabaseQueryError records a database query error during metric collection
func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}
