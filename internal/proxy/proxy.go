package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/echo-platform/echogate/internal/cache"
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/models"
	"github.com/echo-platform/echogate/internal/services"
	"github.com/echo-platform/echogate/internal/store"
	"github.com/echo-platform/echogate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// hop-by-hop headers (RFC 9110 section 7.6.1) plus Accept-Encoding: the
// proxy forwards response bytes untouched, so it must not negotiate a
// content coding on the caller's behalf.
var strippedRequestHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Accept-Encoding",
	// Gateway credentials; provider credentials are injected by the
	// upstream auth client instead.
	"Authorization",
	"X-Api-Key",
	"Cookie",
}

// identity is the cached archived-state of a user/app pair
type identity struct {
	UserActive bool `json:"user_active"`
	AppActive  bool `json:"app_active"`
}

// Proxy forwards completion requests to provider APIs, metering token usage
// into transactions and the balance ledger as responses flow back.
type Proxy struct {
	store       *store.Store
	balance     *services.BalanceService
	metrics     metrics.Recorder
	identities  cache.Cache[identity]
	identityTTL time.Duration
	providers   map[string]*Provider
}

// New creates a Proxy. The identity cache keeps archived-state lookups off
// the hot path; pass a short TTL so revocations propagate quickly.
func New(
	s *store.Store,
	balance *services.BalanceService,
	recorder metrics.Recorder,
	identities cache.Cache[identity],
	identityTTL time.Duration,
	providers map[string]*Provider,
) *Proxy {
	return &Proxy{
		store:       s,
		balance:     balance,
		metrics:     recorder,
		identities:  identities,
		identityTTL: identityTTL,
		providers:   providers,
	}
}

// NewIdentityCache builds the identity cache backend selected by config.
// Redis keeps the archived-state view coherent across replicas; memory is
// the single-node default.
func NewIdentityCache(ctx context.Context, cfg *config.Config) (cache.Cache[identity], error) {
	switch cfg.IdentityCacheType {
	case config.CacheTypeRedis, config.CacheTypeRedisAside:
		return cache.NewRueidisCache[identity](
			ctx,
			cfg.RedisAddr,
			cfg.RedisPassword,
			cfg.RedisDB,
			"identity",
		)
	default:
		return cache.NewMemoryCache[identity](), nil
	}
}

// Completion returns the handler for a provider's completion endpoint.
// The route shape is dialect-specific (/v1/chat/completions vs /v1/messages)
// but the metering flow is shared.
//
//	@Summary		Proxy a completion request
//	@Description	Forwards the request to the upstream provider and meters token usage against the caller's balance
//	@Tags			Proxy
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Failure		401	{object}	object{error=object{type=string,message=string}}	"Missing or invalid access token"
//	@Failure		402	{object}	object{error=object{type=string,message=string}}	"Balance exhausted"
//	@Failure		403	{object}	object{error=object{type=string,message=string}}	"User or application archived"
//	@Router			/v1/chat/completions [post]
//	@Router			/v1/messages [post]
func (p *Proxy) Completion(providerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.GetAccessClaims(c)
		if !ok {
			writeProxyError(c, http.StatusUnauthorized, "authentication_error", "missing access token")
			return
		}

		provider, ok := p.providers[providerName]
		if !ok {
			writeProxyError(c, http.StatusServiceUnavailable, "provider_unavailable",
				fmt.Sprintf("provider %q is not configured", providerName))
			return
		}

		ident, err := p.lookupIdentity(c.Request.Context(), claims.UserID, claims.EchoAppID)
		if err != nil {
			log.Printf("proxy: identity lookup failed for user %s: %v", claims.UserID, err)
			p.metrics.RecordDatabaseQueryError("identity_lookup")
			writeProxyError(c, http.StatusInternalServerError, "internal_error", "identity lookup failed")
			return
		}
		if !ident.UserActive {
			writeProxyError(c, http.StatusForbidden, "account_archived", "user account is archived")
			return
		}
		if !ident.AppActive {
			writeProxyError(c, http.StatusForbidden, "application_archived", "application is archived")
			return
		}

		balance, err := p.balance.Check(claims.UserID)
		if err != nil {
			log.Printf("proxy: balance check failed for user %s: %v", claims.UserID, err)
			p.metrics.RecordDatabaseQueryError("balance_check")
			writeProxyError(c, http.StatusInternalServerError, "internal_error", "balance check failed")
			return
		}
		if balance <= 0 {
			p.metrics.RecordInsufficientBalance()
			writeProxyError(c, http.StatusPaymentRequired, "insufficient_balance",
				"balance is exhausted; add credits to continue")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeProxyError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
			return
		}

		model, streaming := inspectRequest(body)
		if streaming && provider.Dialect == DialectOpenAI {
			body = injectIncludeUsage(body)
		}

		p.forward(c, provider, claims, model, body)
	}
}

// forward sends the prepared request upstream and dispatches the response
// to the streaming or buffered path.
func (p *Proxy) forward(
	c *gin.Context,
	provider *Provider,
	claims *token.AccessTokenClaims,
	model string,
	body []byte,
) {
	// The upstream request must survive a client disconnect so the
	// metering drain can run to completion.
	ctx := context.WithoutCancel(c.Request.Context())

	req, err := http.NewRequestWithContext(
		ctx,
		c.Request.Method,
		provider.BaseURL+c.Request.URL.Path,
		bytes.NewReader(body),
	)
	if err != nil {
		writeProxyError(c, http.StatusInternalServerError, "internal_error", "failed to build upstream request")
		return
	}

	copyRequestHeaders(req.Header, c.Request.Header)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.ContentLength = int64(len(body))
	for k, v := range provider.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := provider.client.Do(req)
	if err != nil {
		p.metrics.RecordProxyRequest(provider.Name, "error", time.Since(start))
		log.Printf("proxy: upstream %s request failed: %v", provider.Name, err)
		writeProxyError(c, http.StatusBadGateway, "upstream_error", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error payloads pass through verbatim so SDK error handling on
		// the caller side keeps working. Nothing is metered.
		p.metrics.RecordProxyRequest(provider.Name, strconv.Itoa(resp.StatusCode), time.Since(start))
		copyResponseHeaders(c.Writer.Header(), resp.Header)
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			log.Printf("proxy: relaying %s error response failed: %v", provider.Name, err)
		}
		return
	}

	if isEventStream(resp.Header) {
		p.relayStream(c, provider, claims, model, resp)
	} else {
		p.relayBuffered(c, provider, claims, model, resp)
	}
	p.metrics.RecordProxyRequest(provider.Name, strconv.Itoa(resp.StatusCode), time.Since(start))
}

// relayBuffered handles non-streaming completions: the body is read once,
// metered, and then delivered unaltered. Finalizing before the write keeps
// the transaction ordered ahead of anything the caller does next.
func (p *Proxy) relayBuffered(
	c *gin.Context,
	provider *Provider,
	claims *token.AccessTokenClaims,
	model string,
	resp *http.Response,
) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("proxy: reading %s response failed: %v", provider.Name, err)
		writeProxyError(c, http.StatusBadGateway, "upstream_error", "reading upstream response failed")
		return
	}

	usage, err := ParseUsage(provider.Dialect, body)
	if err != nil {
		log.Printf("proxy: no usage in %s response for model %s: %v", provider.Name, model, err)
	}
	p.finalize(provider, claims, model, usage)

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(body)))
	c.Status(resp.StatusCode)
	if _, err := c.Writer.Write(body); err != nil {
		log.Printf("proxy: writing response failed: %v", err)
	}
}

// Caller-side buffering for relayed streams. A caller that stops reading is
// given streamStallTimeout to make room in the buffer before being dropped;
// the upstream drain and the metering it feeds never wait on the caller.
const (
	streamChunkBuffer  = 64
	streamStallTimeout = 30 * time.Second
)

// relayStream tees upstream bytes to the caller and a metering accumulator.
// The caller is fed through a bounded channel; the upstream side always
// drains to EOF so the final usage frames are never lost, even when the
// caller disconnects or stalls mid-stream.
func (p *Proxy) relayStream(
	c *gin.Context,
	provider *Provider,
	claims *token.AccessTokenClaims,
	model string,
	resp *http.Response,
) {
	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.Flush()

	chunks := make(chan []byte, streamChunkBuffer)
	writerDone := make(chan struct{})
	var callerGone atomic.Bool

	go func() {
		defer close(writerDone)
		for chunk := range chunks {
			// Keep receiving after a failed write so the drain side is
			// never blocked on a full buffer
			if callerGone.Load() {
				continue
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				callerGone.Store(true)
				continue
			}
			c.Writer.Flush()
		}
	}()

	var accumulator bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			accumulator.Write(buf[:n])
			if !callerGone.Load() {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				default:
					select {
					case chunks <- chunk:
					case <-time.After(streamStallTimeout):
						log.Printf("proxy: dropping stalled caller on %s stream", provider.Name)
						callerGone.Store(true)
					}
				}
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				log.Printf("proxy: %s stream ended early: %v", provider.Name, rerr)
			}
			break
		}
	}
	close(chunks)

	// Settle the transaction before waiting out the caller-side writer
	streamed := accumulator.Bytes()
	go func() {
		usage, err := ParseStreamUsage(provider.Dialect, streamed)
		if err != nil {
			log.Printf("proxy: no usage in %s stream for model %s: %v", provider.Name, model, err)
		}
		p.finalize(provider, claims, model, usage)
	}()

	<-writerDone
}

// finalize records the transaction and settles the balance for one metered
// call. A decrement the balance cannot cover still produces a transaction,
// marked failed, so the shortfall stays visible for reconciliation.
func (p *Proxy) finalize(provider *Provider, claims *token.AccessTokenClaims, model string, usage Usage) {
	cost := CostFor(model, usage)

	status := models.TransactionCompleted
	if err := p.balance.Decrement(claims.UserID, cost); err != nil {
		status = models.TransactionFailed
		if errors.Is(err, services.ErrInsufficientBalance) {
			p.metrics.RecordInsufficientBalance()
			log.Printf("proxy: user %s balance cannot cover %d micro-USD (model %s)",
				claims.UserID, cost, model)
		} else {
			p.metrics.RecordDatabaseQueryError("balance_decrement")
			log.Printf("proxy: balance decrement for user %s failed: %v", claims.UserID, err)
		}
	}

	txn := &models.Transaction{
		ID:           uuid.New().String(),
		UserID:       claims.UserID,
		EchoAppID:    claims.EchoAppID,
		Provider:     provider.Name,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		Cost:         cost,
		Status:       status,
	}
	if err := p.store.CreateTransaction(txn); err != nil {
		p.metrics.RecordDatabaseQueryError("create_transaction")
		log.Printf("proxy: recording transaction for user %s failed: %v", claims.UserID, err)
		return
	}

	p.metrics.RecordUsageMetered(provider.Name, model, usage.InputTokens, usage.OutputTokens)
	p.metrics.RecordTransaction(status)
}

// lookupIdentity resolves the archived-state of the user/app pair, serving
// from cache when fresh
func (p *Proxy) lookupIdentity(ctx context.Context, userID, echoAppID string) (identity, error) {
	key := "identity:" + userID + ":" + echoAppID

	if ident, err := p.identities.Get(ctx, key); err == nil {
		return ident, nil
	}

	user, err := p.store.GetUserByID(userID)
	if err != nil {
		return identity{}, fmt.Errorf("load user: %w", err)
	}
	app, err := p.store.GetEchoApp(echoAppID)
	if err != nil {
		return identity{}, fmt.Errorf("load app: %w", err)
	}

	ident := identity{
		UserActive: !user.IsArchived,
		AppActive:  !app.IsArchived,
	}
	if err := p.identities.Set(ctx, key, ident, p.identityTTL); err != nil {
		log.Printf("proxy: caching identity for user %s failed: %v", userID, err)
	}
	return ident, nil
}

// inspectRequest pulls the model name and stream flag out of the request
// body without disturbing the rest of the payload
func inspectRequest(body []byte) (model string, streaming bool) {
	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", false
	}
	return req.Model, req.Stream
}

// injectIncludeUsage sets stream_options.include_usage so the final OpenAI
// stream chunk carries token counts. Existing stream_options keys survive.
func injectIncludeUsage(body []byte) []byte {
	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}

	opts := map[string]json.RawMessage{}
	if raw, ok := req["stream_options"]; ok {
		if err := json.Unmarshal(raw, &opts); err != nil {
			opts = map[string]json.RawMessage{}
		}
	}
	opts["include_usage"] = json.RawMessage("true")

	encoded, err := json.Marshal(opts)
	if err != nil {
		return body
	}
	req["stream_options"] = encoded

	out, err := json.Marshal(req)
	if err != nil {
		return body
	}
	return out
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

func copyRequestHeaders(dst, src http.Header) {
	for k, values := range src {
		if isStrippedHeader(k) {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for k, values := range src {
		if isStrippedHeader(k) {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func isStrippedHeader(name string) bool {
	for _, h := range strippedRequestHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func writeProxyError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}
