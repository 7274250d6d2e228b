package oauthd

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthd/oauthd/instrumentation"
	"github.com/oauthd/oauthd/security"
)

const tokenTypeBearer = "bearer"

// Handler exposes the OAuth server over HTTP
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.Instrumentation() != nil {
		h.tracer = server.Instrumentation().Tracer("http")
	}

	return h
}

// RegisterRoutes registers all OAuth endpoints on the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/.well-known/jwks.json", h.ServeJWKS)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
}

// consentTemplate is the HTML page served by the authorization endpoint.
// There is no user directory, so instead of a login form the page shows a
// granted-authorization notice and redirects the browser to the client's
// callback URL after a short countdown. A click anywhere skips the wait.
const consentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Successful</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            margin: 0;
            padding: 0;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .container {
            background: white;
            padding: 2rem;
            border-radius: 12px;
            box-shadow: 0 20px 40px rgba(0,0,0,0.1);
            text-align: center;
            max-width: 400px;
            width: 90%;
        }
        .logo {
            font-size: 2.5rem;
            margin-bottom: 1rem;
        }
        h1 {
            color: #333;
            margin-bottom: 0.5rem;
            font-size: 1.5rem;
        }
        .subtitle {
            color: #666;
            margin-bottom: 2rem;
            font-size: 1rem;
        }
        .client-info {
            background: #f8f9fa;
            padding: 1rem;
            border-radius: 8px;
            margin: 1rem 0;
            border-left: 4px solid #667eea;
        }
        .countdown {
            font-size: 3rem;
            font-weight: bold;
            color: #667eea;
            margin: 1.5rem 0;
            font-family: 'Courier New', monospace;
        }
        .status {
            color: #28a745;
            font-weight: 500;
            margin-top: 1rem;
        }
        .spinner {
            display: inline-block;
            width: 20px;
            height: 20px;
            border: 2px solid #f3f3f3;
            border-top: 2px solid #667eea;
            border-radius: 50%;
            animation: spin 1s linear infinite;
            margin-right: 8px;
        }
        @keyframes spin {
            0% { transform: rotate(0deg); }
            100% { transform: rotate(360deg); }
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="logo">&#128274;</div>
        <h1>Authorization Successful</h1>
        <p class="subtitle">OAuth Authorization Server</p>

        <div class="client-info">
            <strong>Client ID:</strong><br>
            <code>{{.ClientID}}</code>
        </div>

        <div class="status">
            <div class="spinner"></div>
            Authorization granted! Redirecting in...
        </div>

        <div class="countdown" id="countdown">3</div>

        <p style="color: #666; font-size: 0.9rem;">
            You will be redirected automatically to complete the authentication flow.
            If nothing happens, <a id="redirect-link" href="{{.CallbackURL}}">continue manually</a>.
        </p>
    </div>

    <script>
        let countdown = 3;
        const countdownElement = document.getElementById('countdown');
        const callbackUrl = document.getElementById('redirect-link').href;

        const timer = setInterval(() => {
            countdown--;
            countdownElement.textContent = countdown;

            if (countdown <= 0) {
                clearInterval(timer);
                countdownElement.textContent = '0';
                window.location.href = callbackUrl;
            }
        }, 1000);

        document.addEventListener('click', () => {
            clearInterval(timer);
            window.location.href = callbackUrl;
        });
    </script>
</body>
</html>
`

var consentPage = template.Must(template.New("consent").Parse(consentTemplate))

type consentPageData struct {
	ClientID    string
	CallbackURL string
}

// ==================== Client Registration ====================

// ServeClientRegistration handles POST /register (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config().TrustProxy, h.server.Config().TrustedProxyCount)

	req, err := h.parseRegistrationRequest(r)
	if err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "malformed registration request")
		h.writeError(w, ErrInvalidRequest("Failed to parse registration request"))
		return
	}

	resp, regErr := h.server.RegisterClient(ctx, req, clientIP)
	if regErr != nil {
		h.logger.Error("Client registration failed", "ip", clientIP, "error", regErr)
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, regErr)
		h.writeError(w, ErrServerError("Failed to register client"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, resp.ClientID),
	)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics("register", http.MethodPost, http.StatusOK, startTime)

	h.writeJSON(w, http.StatusOK, resp)
}

// parseRegistrationRequest decodes a registration request from either a
// JSON body or form data, depending on Content-Type. An empty body is
// valid; every field has a default.
func (h *Handler) parseRegistrationRequest(r *http.Request) (*ClientRegistrationRequest, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if contentType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return &ClientRegistrationRequest{
			ClientName:        r.FormValue("client_name"),
			ClientDescription: r.FormValue("client_description"),
			ClientLogoURL:     r.FormValue("client_logo_url"),
			ClientURI:         r.FormValue("client_uri"),
			DeveloperName:     r.FormValue("developer_name"),
			DeveloperEmail:    r.FormValue("developer_email"),
			RedirectURIs:      r.Form["redirect_uris"],
		}, nil
	}

	var req ClientRegistrationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// ==================== Authorization ====================

// ServeAuthorization handles GET /authorize. On success it renders the
// consent page, which redirects the browser to the callback URL carrying
// the authorization code.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.setCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config().TrustProxy, h.server.Config().TrustedProxyCount)

	q := r.URL.Query()
	req := &AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Resource:            q.Get("resource"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	result, err := h.server.Authorize(ctx, req, clientIP)
	if err != nil {
		oauthErr := asOAuthError(err)
		h.logger.Warn("Authorization request rejected",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		h.recordHTTPMetrics("authorize", http.MethodGet, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, oauthErr.Code)
		h.setCORSHeaders(w)
		h.writeError(w, oauthErr)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics("authorize", http.MethodGet, http.StatusOK, startTime)

	h.setCORSHeaders(w)
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentPage.Execute(w, consentPageData{
		ClientID:    req.ClientID,
		CallbackURL: result.CallbackURL,
	}); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}
}

// ==================== Token ====================

// tokenRequest carries the token endpoint parameters, accepted as either
// form data or a JSON body
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

// ServeToken handles POST /token
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseTokenRequest(r)
	if err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	// Basic auth supplies client credentials when the body does not
	if req.ClientID == "" {
		if basicID, basicSecret, ok := r.BasicAuth(); ok {
			req.ClientID = basicID
			if req.ClientSecret == "" {
				req.ClientSecret = basicSecret
			}
		}
	}

	switch req.GrantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r, req)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r, req)
	default:
		h.writeError(w, ErrUnsupportedGrantType(fmt.Sprintf("Grant type %q not supported", req.GrantType)))
	}
}

func (h *Handler) parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if contentType == "application/json" {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &tokenRequest{
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
		CodeVerifier: r.FormValue("code_verifier"),
		RefreshToken: r.FormValue("refresh_token"),
	}, nil
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config().TrustProxy, h.server.Config().TrustedProxyCount)

	if req.Code == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrInvalidRequest("Required parameter 'code' missing"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"),
	)

	tokenResponse, err := h.server.ExchangeAuthorizationCode(ctx, req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier, clientIP)
	if err != nil {
		oauthErr := asOAuthError(err)
		h.logger.Error("Failed to exchange authorization code",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeError(w, oauthErr)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", req.ClientID, "ip", clientIP)
	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, tokenResponse)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, req *tokenRequest) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config().TrustProxy, h.server.Config().TrustedProxyCount)

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, "refresh_token"),
	)

	tokenResponse, err := h.server.RefreshAccessToken(ctx, req.RefreshToken, req.ClientID, clientIP)
	if err != nil {
		oauthErr := asOAuthError(err)
		h.logger.Error("Failed to refresh access token",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeError(w, oauthErr)
		return
	}

	h.logger.Info("Token refresh successful", "client_id", req.ClientID, "ip", clientIP)
	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, tokenResponse)
}

// ==================== Discovery ====================

// ServeJWKS handles GET /.well-known/jwks.json
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	h.writeJSON(w, http.StatusOK, h.server.JWKS())
	h.recordHTTPMetrics("jwks", http.MethodGet, http.StatusOK, startTime)
}

// ServeAuthorizationServerMetadata handles GET /.well-known/oauth-authorization-server (RFC 8414)
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	h.writeJSON(w, http.StatusOK, h.server.Metadata())
	h.recordHTTPMetrics("discovery", http.MethodGet, http.StatusOK, startTime)
}

// ==================== Helpers ====================

// setCORSHeaders sets permissive CORS headers. The server is a development
// authorization server; browser-based clients on any origin may call it.
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// asOAuthError normalizes server errors to OAuthError; anything else is
// reported as server_error without leaking internals
func asOAuthError(err error) *OAuthError {
	if oauthErr, ok := err.(*OAuthError); ok {
		return oauthErr
	}
	return ErrServerError("Internal server error")
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation() == nil || h.server.Instrumentation().Metrics() == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation().Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
