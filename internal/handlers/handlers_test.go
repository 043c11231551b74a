package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/metrics"
	"github.com/echo-platform/echogate/internal/middleware"
	"github.com/echo-platform/echogate/internal/models"
	"github.com/echo-platform/echogate/internal/services"
	"github.com/echo-platform/echogate/internal/store"
	"github.com/echo-platform/echogate/internal/templates"
	"github.com/echo-platform/echogate/internal/token"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// RFC 7636 appendix B example pair.
const (
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

type handlerEnv struct {
	engine *gin.Engine
	store  *store.Store
	codec  *token.Codec
	config *config.Config
	user   *models.User
	app    *models.EchoApp

	cookies []*http.Cookie
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		BaseURL:                "http://localhost:8080",
		JWTSecret:              "handler-test-secret",
		SessionSecret:          "handler-session-secret",
		AccessTokenExpiration:  time.Hour,
		AuthCodeExpiration:     5 * time.Minute,
		RefreshTokenExpiration: 720 * time.Hour,
		RefreshGraceWindow:     2 * time.Minute,
		ConsentRemember:        true,
		SilentAuthEnabled:      true,
	}

	s, err := store.New("sqlite", ":memory:")
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        "alice@example.com",
		PasswordHash: string(hash),
		Name:         "Alice",
		Role:         "user",
	}
	require.NoError(t, s.CreateUser(user))

	app := &models.EchoApp{
		ID:           uuid.New().String(),
		Name:         "Handler Test App",
		Description:  "For handler tests",
		RedirectURIs: models.StringArray{"http://localhost/callback"},
		Scopes:       "openid profile chat",
	}
	require.NoError(t, s.CreateEchoApp(app))

	recorder := metrics.NewNoopMetrics()
	codec := token.NewCodec(cfg)
	userService := services.NewUserService(s)
	oauthService := services.NewOAuthService(s, codec, cfg, recorder)
	sessionService := services.NewSessionService(s, recorder)

	authHandler := NewAuthHandler(userService, recorder, cfg.BaseURL)
	authorizeHandler := NewAuthorizeHandler(oauthService, userService, cfg)
	tokenHandler := NewTokenHandler(oauthService, cfg)
	sessionHandler := NewSessionHandler(sessionService, userService)

	engine := gin.New()
	engine.SetHTMLTemplate(templates.Load())
	engine.Use(sessions.Sessions("echogate_session", cookie.NewStore([]byte(cfg.SessionSecret))))

	engine.GET("/login", authHandler.LoginPage)
	engine.POST("/login", authHandler.Login)
	engine.GET("/logout", authHandler.Logout)
	engine.GET("/oauth/authorize", middleware.RequireAuth(), authorizeHandler.ShowAuthorizePage)
	engine.POST("/oauth/authorize", middleware.RequireAuth(), authorizeHandler.HandleAuthorize)
	engine.POST("/oauth/token", tokenHandler.Token)
	engine.GET("/account/sessions", middleware.RequireAuth(), sessionHandler.ListSessions)
	engine.POST("/account/sessions/:id/revoke", middleware.RequireAuth(), sessionHandler.RevokeSession)
	engine.POST("/account/sessions/revoke-all", middleware.RequireAuth(), sessionHandler.RevokeAllSessions)

	return &handlerEnv{
		engine: engine,
		store:  s,
		codec:  codec,
		config: cfg,
		user:   user,
		app:    app,
	}
}

// do performs a request carrying the env's session cookies and remembers
// any new ones
func (env *handlerEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range env.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	// Newest cookie of a given name wins, as a browser would behave.
	for _, fresh := range w.Result().Cookies() {
		replaced := false
		for i, existing := range env.cookies {
			if existing.Name == fresh.Name {
				env.cookies[i] = fresh
				replaced = true
				break
			}
		}
		if !replaced {
			env.cookies = append(env.cookies, fresh)
		}
	}
	return w
}

func (env *handlerEnv) login(t *testing.T) {
	t.Helper()
	w := env.do(http.MethodPost, "/login", url.Values{
		"email":    {"alice@example.com"},
		"password": {"password123"},
	})
	require.Equal(t, http.StatusFound, w.Code)
}

func (env *handlerEnv) authorizeQuery() string {
	q := url.Values{
		"client_id":             {env.app.ID},
		"redirect_uri":          {"http://localhost/callback"},
		"response_type":         {"code"},
		"scope":                 {"openid chat"},
		"state":                 {"xyz"},
		"code_challenge":        {testChallenge},
		"code_challenge_method": {"S256"},
	}
	return "/oauth/authorize?" + q.Encode()
}

// authorize drives the consent flow and returns the issued code
func (env *handlerEnv) authorize(t *testing.T) string {
	t.Helper()
	w := env.do(http.MethodPost, "/oauth/authorize", url.Values{
		"action":                {"approve"},
		"client_id":             {env.app.ID},
		"redirect_uri":          {"http://localhost/callback"},
		"scope":                 {"openid chat"},
		"state":                 {"xyz"},
		"code_challenge":        {testChallenge},
		"code_challenge_method": {"S256"},
	})
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	return code
}

func (env *handlerEnv) exchange(t *testing.T, code string) map[string]any {
	t.Helper()
	w := env.do(http.MethodPost, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {env.app.ID},
		"redirect_uri":  {"http://localhost/callback"},
		"code_verifier": {testVerifier},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeJSON(t, w)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLoginFlow(t *testing.T) {
	env := newHandlerEnv(t)

	t.Run("login page renders", func(t *testing.T) {
		w := env.do(http.MethodGet, "/login", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Sign in to EchoGate")
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		w := env.do(http.MethodPost, "/login", url.Values{
			"email":    {"alice@example.com"},
			"password": {"wrong"},
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid email or password")
	})

	t.Run("valid login sets a session", func(t *testing.T) {
		env.login(t)
		w := env.do(http.MethodGet, "/account/sessions", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Active sessions for Alice")
	})

	t.Run("logout clears the session", func(t *testing.T) {
		w := env.do(http.MethodGet, "/logout", nil)
		require.Equal(t, http.StatusFound, w.Code)

		w = env.do(http.MethodGet, "/account/sessions", nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/login")
	})
}

func TestAuthorizeFlow(t *testing.T) {
	t.Run("anonymous request redirects to login", func(t *testing.T) {
		env := newHandlerEnv(t)
		w := env.do(http.MethodGet, env.authorizeQuery(), nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/login?redirect=")
	})

	t.Run("consent page renders for a first-time app", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		w := env.do(http.MethodGet, env.authorizeQuery(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Handler Test App")
		assert.Contains(t, w.Body.String(), "openid")
	})

	t.Run("approval issues a code bound to the user", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		code := env.authorize(t)
		claims, err := env.codec.VerifyAuthorizationCode(code)
		require.NoError(t, err)
		assert.Equal(t, env.user.ID, claims.UserID)
	})

	t.Run("remembered consent skips the consent page", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)
		env.authorize(t)

		w := env.do(http.MethodGet, env.authorizeQuery(), nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "code=")
	})

	t.Run("deny redirects with access_denied", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		w := env.do(http.MethodPost, "/oauth/authorize", url.Values{
			"action":                {"deny"},
			"client_id":             {env.app.ID},
			"redirect_uri":          {"http://localhost/callback"},
			"scope":                 {"openid"},
			"code_challenge":        {testChallenge},
			"code_challenge_method": {"S256"},
		})
		require.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "error=access_denied")
	})

	t.Run("prompt=none without consent yields consent_required", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		w := env.do(http.MethodGet, env.authorizeQuery()+"&prompt=none", nil)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "error=consent_required")
	})

	t.Run("prompt=none with remembered consent mints silently", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)
		env.authorize(t)

		w := env.do(http.MethodGet, env.authorizeQuery()+"&prompt=none", nil)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "code=")
	})

	t.Run("unknown client renders a local error page", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		q := url.Values{
			"client_id":             {uuid.New().String()},
			"redirect_uri":          {"http://localhost/callback"},
			"response_type":         {"code"},
			"code_challenge":        {testChallenge},
			"code_challenge_method": {"S256"},
		}
		w := env.do(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized_client")
	})
}

func TestTokenEndpoint(t *testing.T) {
	t.Run("authorization code exchange returns tokens", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)

		body := env.exchange(t, env.authorize(t))
		assert.NotEmpty(t, body["access_token"])
		assert.True(t, strings.HasPrefix(body["refresh_token"].(string), "egr_"))
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, float64(3600), body["expires_in"])
		assert.Equal(t, float64(30*24*3600), body["refresh_token_expires_in"])
		assert.Equal(t, "openid chat", body["scope"])

		user := body["user"].(map[string]any)
		assert.Equal(t, "alice@example.com", user["email"])
		app := body["echo_app"].(map[string]any)
		assert.Equal(t, "Handler Test App", app["name"])
	})

	t.Run("wrong verifier collapses to invalid_grant", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)
		code := env.authorize(t)

		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"client_id":     {env.app.ID},
			"redirect_uri":  {"http://localhost/callback"},
			"code_verifier": {"wrong-verifier-wrong-verifier-wrong-verifier"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_grant")
	})

	t.Run("refresh rotates the token", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.login(t)
		body := env.exchange(t, env.authorize(t))

		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {body["refresh_token"].(string)},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		refreshed := decodeJSON(t, w)
		assert.NotEqual(t, body["refresh_token"], refreshed["refresh_token"])
		assert.NotEmpty(t, refreshed["access_token"])
	})

	t.Run("missing parameters yield invalid_request", func(t *testing.T) {
		env := newHandlerEnv(t)
		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type": {"authorization_code"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_request")
	})

	t.Run("unknown grant type is rejected", func(t *testing.T) {
		env := newHandlerEnv(t)
		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type": {"password"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unsupported_grant_type")
	})

	t.Run("garbage refresh token yields invalid_grant", func(t *testing.T) {
		env := newHandlerEnv(t)
		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {"egr_definitely-not-issued"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_grant")
	})
}

func TestSessionEndpoints(t *testing.T) {
	env := newHandlerEnv(t)
	env.login(t)
	body := env.exchange(t, env.authorize(t))
	sessionID := body["session_id"].(string)

	t.Run("list shows the exchange session", func(t *testing.T) {
		w := env.do(http.MethodGet, "/account/sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), sessionID)
	})

	t.Run("revoke removes it", func(t *testing.T) {
		w := env.do(http.MethodPost, "/account/sessions/"+sessionID+"/revoke", nil)
		require.Equal(t, http.StatusFound, w.Code)

		w = env.do(http.MethodGet, "/account/sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), sessionID)
	})

	t.Run("revoked session blocks refresh", func(t *testing.T) {
		w := env.do(http.MethodPost, "/oauth/token", url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {body["refresh_token"].(string)},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_grant")
	})
}
