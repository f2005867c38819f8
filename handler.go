package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/server"
)

const (
	tokenTypeBearer = "Bearer"

	// maxRequestBodySize caps form and JSON request bodies
	maxRequestBodySize = 64 << 10

	// metadataMaxAge is the Cache-Control max-age of discovery documents, in seconds
	metadataMaxAge = 3600

	// Discovery document paths
	OpenIDConfigurationPath         = "/.well-known/openid-configuration"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
)

// Handler is the HTTP surface of a server.Server.
type Handler struct {
	server     *server.Server
	logger     *slog.Logger
	limiter    *security.RateLimiter
	auditor    *security.Auditor
	trustProxy bool
	tracer     trace.Tracer
	metrics    *instrumentation.Metrics
}

// NewHandler creates a new OAuth HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:  srv,
		logger:  logger,
		metrics: srv.Metrics(),
	}
}

// SetRateLimiter enables per-client rate limiting on the token endpoint.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.limiter = rl
}

// SetAuditor records rate limit violations as security events. A nil auditor disables them.
func (h *Handler) SetAuditor(a *security.Auditor) {
	h.auditor = a
}

// SetInstrumentation enables HTTP spans and request metrics.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	h.tracer = inst.Tracer("http")
	h.metrics = inst.Metrics()
}

// Server returns the underlying authorization server.
func (h *Handler) Server() *server.Server {
	return h.server
}

// Close stops the rate limiter's cleanup goroutine.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Routes returns a chi router serving every endpoint under its standard path.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Use(h.securityHeaders)

	r.Get(server.AuthorizationPath, h.instrument("authorize", h.ServeAuthorization))
	r.Post(server.AuthorizationPath, h.instrument("authorize", h.ServeAuthorization))
	r.Post(server.TokenPath, h.instrument("token", h.ServeToken))
	r.Post(server.RevocationPath, h.instrument("revoke", h.ServeTokenRevocation))
	r.Get(server.UserInfoPath, h.instrument("userinfo", h.ServeUserInfo))
	r.Post(server.UserInfoPath, h.instrument("userinfo", h.ServeUserInfo))
	r.Get(OpenIDConfigurationPath, h.instrument("openid_configuration", h.ServeOpenIDConfiguration))
	r.Get(AuthorizationServerMetadataPath, h.instrument("authorization_server_metadata", h.ServeAuthorizationServerMetadata))

	return r
}

// ServeAuthorization handles GET and POST /oauth/authorize. The code is
// returned as JSON unless the caller asks for a browser redirect with
// Accept: text/html or redirect=1.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params, err := readParams(w, r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.server.Authorize(r.Context(), &AuthorizeRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		ResponseType:        params.Get("response_type"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		UserID:              params.Get("user_id"),
		RemoteAddr:          h.clientIP(r),
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	if params.Get("redirect") == "1" || acceptsHTML(r) {
		target, err := url.Parse(resp.RedirectURI)
		if err != nil {
			// Registered URIs are operator-supplied; a bad one is a server fault.
			h.writeError(w, ErrorCodeServerError, "registered redirect_uri is malformed", http.StatusInternalServerError)
			return
		}
		q := target.Query()
		q.Set("code", resp.Code)
		if resp.State != "" {
			q.Set("state", resp.State)
		}
		target.RawQuery = q.Encode()

		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, target.String(), http.StatusFound)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeToken handles POST /oauth/token for the authorization_code and
// refresh_token grants. Client credentials may come from HTTP Basic auth or
// the request body.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params, err := readParams(w, r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	clientID, clientSecret, err := clientCredentials(r, params)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	clientIP := h.clientIP(r)
	if h.limiter != nil {
		key := clientID
		if key == "" {
			key = "ip:" + clientIP
		}
		if !h.limiter.Allow(key) {
			h.metrics.RecordRateLimitExceeded(r.Context(), "token")
			h.auditor.LogRateLimitExceeded(clientID, clientIP)
			security.LoggerFromContext(r.Context(), h.logger).Warn("Token endpoint rate limit exceeded",
				"client_id", clientID,
				"ip", clientIP)
			w.Header().Set("Retry-After", "1")
			h.writeOAuthError(w, r, ErrSlowDown("too many token requests"))
			return
		}
	}

	resp, err := h.server.Token(r.Context(), &TokenRequest{
		GrantType:    params.Get("grant_type"),
		Code:         params.Get("code"),
		RedirectURI:  params.Get("redirect_uri"),
		CodeVerifier: params.Get("code_verifier"),
		RefreshToken: params.Get("refresh_token"),
		Scope:        params.Get("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RemoteAddr:   clientIP,
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeTokenRevocation handles POST /oauth/revoke (RFC 7009). Unknown tokens
// still produce 200 {"success": true}.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params, err := readParams(w, r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	clientID, clientSecret, err := clientCredentials(r, params)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	resp, err := h.server.RevokeToken(r.Context(), &RevokeRequest{
		Token:         params.Get("token"),
		TokenTypeHint: params.Get("token_type_hint"),
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		RemoteAddr:    h.clientIP(r),
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeUserInfo handles GET and POST /oauth/userinfo. The access token is
// read from the Authorization header, or from an access_token form field on POST.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := bearerToken(r)
	if !ok && r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err == nil {
			token = r.PostForm.Get("access_token")
			ok = token != ""
		}
	}
	if !ok {
		h.writeError(w, ErrorCodeInvalidToken, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := h.server.UserInfo(r.Context(), token)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
}

// ServeOpenIDConfiguration serves /.well-known/openid-configuration
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.serveMetadata(w, r)
}

// ServeAuthorizationServerMetadata serves /.well-known/oauth-authorization-server (RFC 8414)
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveMetadata(w, r)
}

func (h *Handler) serveMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetCacheableHeaders(w, h.server.Config.Issuer, metadataMaxAge)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.server.Metadata())
}

// writeOAuthError maps err onto an OAuth error response. Anything that is not
// an *OAuthError is logged and reported as server_error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		security.LoggerFromContext(r.Context(), h.logger).Error("Unhandled request error",
			"path", r.URL.Path,
			"error", err)
		oauthErr = ErrServerError("internal server error")
	}

	if oauthErr.Status >= http.StatusInternalServerError {
		security.LoggerFromContext(r.Context(), h.logger).Error("Request failed",
			"path", r.URL.Path,
			"error", oauthErr.Code,
			"description", oauthErr.Description)
	} else {
		security.LoggerFromContext(r.Context(), h.logger).Debug("Request rejected",
			"path", r.URL.Path,
			"error", oauthErr.Code,
			"description", oauthErr.Description)
	}

	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(code, description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// formatWWWAuthenticate builds an RFC 6750 section 3 challenge.
func formatWWWAuthenticate(code, description string) string {
	quote := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fmt.Sprintf(`%s error="%s", error_description="%s"`,
		tokenTypeBearer, quote.Replace(code), quote.Replace(description))
}

// securityHeaders sets the default security headers before the endpoint runs.
// Endpoints may override them, as the discovery handlers do for caching.
func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		next.ServeHTTP(w, r)
	})
}

// instrument wraps an endpoint with an "oauth.http.<endpoint>" span and request metrics.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		var span trace.Span
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "oauth.http."+endpoint)
			defer span.End()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		if span != nil {
			instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrHTTPEndpoint, endpoint))
			if rec.status >= http.StatusInternalServerError {
				instrumentation.SetSpanError(span, http.StatusText(rec.status))
			} else {
				instrumentation.SetSpanSuccess(span)
			}
		}
		h.metrics.RecordHTTPRequest(context.WithoutCancel(ctx), r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// clientIP returns the caller's address for audit records.
func (h *Handler) clientIP(r *http.Request) string {
	if h.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientCredentials prefers HTTP Basic auth over body parameters. Supplying a
// different client_id in both places is rejected.
func clientCredentials(r *http.Request, params url.Values) (clientID, clientSecret string, err error) {
	clientID = params.Get("client_id")
	clientSecret = params.Get("client_secret")

	basicID, basicSecret, ok := r.BasicAuth()
	if !ok {
		return clientID, clientSecret, nil
	}
	// RFC 6749 section 2.3.1: Basic credentials are form-urlencoded
	if id, err := url.QueryUnescape(basicID); err == nil {
		basicID = id
	}
	if secret, err := url.QueryUnescape(basicSecret); err == nil {
		basicSecret = secret
	}
	if clientID != "" && clientID != basicID {
		return "", "", ErrInvalidClient("client_id in body does not match Authorization header")
	}
	return basicID, basicSecret, nil
}

// readParams returns the request parameters from the query string and either
// a form-encoded or a JSON object body.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse request")
		}
		return r.Form, nil
	}

	params := r.URL.Query()
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse JSON body")
	}
	for k, v := range body {
		switch val := v.(type) {
		case nil:
		case string:
			params.Set(k, val)
		case json.Number:
			params.Set(k, val.String())
		case bool:
			params.Set(k, strconv.FormatBool(val))
		default:
			return nil, fmt.Errorf("parameter %s must be a string", k)
		}
	}
	return params, nil
}
