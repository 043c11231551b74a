package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder.
// All methods are empty, providing zero overhead when metrics are disabled.
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordLogin(success bool)                   {}
func (n *NoopMetrics) RecordLogout()                              {}
func (n *NoopMetrics) RecordAuthorizationCodeIssued(success bool) {}
func (n *NoopMetrics) RecordCodeExchange(result string)           {}
func (n *NoopMetrics) RecordTokenRefresh(result string)           {}
func (n *NoopMetrics) RecordTokenValidation(result string)        {}
func (n *NoopMetrics) RecordSessionRevoked(reason string)         {}

func (n *NoopMetrics) RecordProxyRequest(provider, status string, duration time.Duration) {}
func (n *NoopMetrics) RecordUsageMetered(provider, model string, inputTokens, outputTokens int64) {
}
func (n *NoopMetrics) RecordTransaction(status string) {}
func (n *NoopMetrics) RecordInsufficientBalance()      {}

func (n *NoopMetrics) SetActiveSessionsCount(count int64)      {}
func (n *NoopMetrics) SetActiveRefreshTokensCount(count int64) {}

func (n *NoopMetrics) RecordDatabaseQueryError(operation string) {}
