package oauthd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/oauthd/oauthd/internal/testutil"
	"github.com/oauthd/oauthd/signing"
	"github.com/oauthd/oauthd/storage/memory"
)

func setupTestHandler(t *testing.T) (*Handler, *Server) {
	t.Helper()

	keys, err := signing.NewKeyProvider()
	if err != nil {
		t.Fatalf("signing.NewKeyProvider() error = %v", err)
	}

	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := NewServer(store, store, store, keys, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return NewHandler(server, nil), server
}

func TestNewHandler(t *testing.T) {
	handler, _ := setupTestHandler(t)
	if handler == nil {
		t.Fatal("NewHandler() returned nil")
	}
	if handler.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestHandler_ServeClientRegistration(t *testing.T) {
	handler, _ := setupTestHandler(t)

	body := `{"client_name":"My App","redirect_uris":["http://localhost:8080/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeClientRegistration(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp ClientRegistrationResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if !strings.HasPrefix(resp.ClientID, "mcp_") {
		t.Errorf("ClientID = %q, want mcp_ prefix", resp.ClientID)
	}
	if !strings.HasPrefix(resp.ClientSecret, "secret_") {
		t.Errorf("ClientSecret = %q, want secret_ prefix", resp.ClientSecret)
	}
	if resp.ClientName != "My App" {
		t.Errorf("ClientName = %q, want My App", resp.ClientName)
	}
	if len(resp.GrantTypes) != 2 {
		t.Errorf("GrantTypes = %v", resp.GrantTypes)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestHandler_ServeClientRegistration_EmptyBody(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/register", nil)
	w := httptest.NewRecorder()

	handler.ServeClientRegistration(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ClientRegistrationResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ClientName != "MCP Test Client" {
		t.Errorf("ClientName = %q, want default", resp.ClientName)
	}
}

func TestHandler_ServeClientRegistration_MethodNotAllowed(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/register", nil)
	w := httptest.NewRecorder()

	handler.ServeClientRegistration(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_ServeAuthorization_ConsentPage(t *testing.T) {
	handler, server := setupTestHandler(t)

	reg, err := server.RegisterClient(context.Background(), nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {reg.ClientID},
		"redirect_uri":  {reg.RedirectURIs[0]},
		"scope":         {"mcp:tools"},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()

	handler.ServeAuthorization(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	body := w.Body.String()
	if !strings.Contains(body, reg.ClientID) {
		t.Error("consent page does not show the client ID")
	}
	if !strings.Contains(body, "code=") {
		t.Error("consent page does not carry a callback URL with a code")
	}
	if !strings.Contains(body, "Authorization Successful") {
		t.Error("consent page is missing the success heading")
	}
}

func TestHandler_ServeAuthorization_UnknownClient(t *testing.T) {
	handler, _ := setupTestHandler(t)

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"mcp_unknown"},
		"redirect_uri":  {"http://localhost:6274/oauth/callback/debug"},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()

	handler.ServeAuthorization(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if errResp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", errResp.Error, ErrorCodeInvalidClient)
	}
}

func TestHandler_ServeAuthorization_UnsupportedResponseType(t *testing.T) {
	handler, _ := setupTestHandler(t)

	q := url.Values{
		"response_type": {"token"},
		"client_id":     {SeedClientID},
		"redirect_uri":  {"http://localhost:6274/oauth/callback/debug"},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()

	handler.ServeAuthorization(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// extractCodeFromConsentPage pulls the authorization code out of the
// rendered consent page's callback URL.
func extractCodeFromConsentPage(t *testing.T, body string) string {
	t.Helper()

	idx := strings.Index(body, "code=")
	if idx < 0 {
		t.Fatal("no code in consent page")
	}
	rest := body[idx+len("code="):]
	end := strings.IndexAny(rest, "\"&\\')")
	if end < 0 {
		t.Fatal("unterminated code in consent page")
	}
	return rest[:end]
}

func TestHandler_EndToEndFlow(t *testing.T) {
	handler, server := setupTestHandler(t)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// 1. Register a client
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/register", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d", w.Code)
	}
	var reg ClientRegistrationResponse
	if err := json.NewDecoder(w.Body).Decode(&reg); err != nil {
		t.Fatalf("failed to decode registration: %v", err)
	}

	// 2. Authorize with a PKCE challenge
	verifier, challenge := testutil.GeneratePKCEPair()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {reg.RedirectURIs[0]},
		"scope":                 {"mcp:tools"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("authorize status = %d: %s", w.Code, w.Body.String())
	}
	code := extractCodeFromConsentPage(t, w.Body.String())
	if len(code) != 43 {
		t.Fatalf("len(code) = %d, want 43", len(code))
	}

	// 3. Exchange the code for tokens
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {reg.ClientID},
		"redirect_uri":  {reg.RedirectURIs[0]},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", w.Code, w.Body.String())
	}

	var tokens TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&tokens); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tokens.TokenType != "bearer" {
		t.Errorf("token_type = %q, want bearer", tokens.TokenType)
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tokens.ExpiresIn)
	}

	// The access token verifies against the published JWKS key
	claims := testutil.DecodeJWT(t, tokens.AccessToken, server.Keys().PublicKey())
	if claims["iss"] != "http://localhost:9000" {
		t.Errorf("iss = %v", claims["iss"])
	}
	if claims["client_id"] != reg.ClientID {
		t.Errorf("client_id = %v, want %q", claims["client_id"], reg.ClientID)
	}

	// 4. Replaying the code fails
	req = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if errResp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", errResp.Error)
	}

	// 5. Refresh the access token
	form = url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {reg.ClientID},
	}
	req = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", w.Code, w.Body.String())
	}

	var refreshed TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&refreshed); err != nil {
		t.Fatalf("failed to decode refresh response: %v", err)
	}
	if refreshed.AccessToken == tokens.AccessToken {
		t.Error("refresh returned the same access token")
	}
	if refreshed.RefreshToken != tokens.RefreshToken {
		t.Error("refresh token was rotated, want it echoed back")
	}
}

func TestHandler_ServeToken_BasicAuth(t *testing.T) {
	handler, server := setupTestHandler(t)

	reg, err := server.RegisterClient(context.Background(), nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	result, err := server.Authorize(context.Background(), &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     reg.ClientID,
		RedirectURI:  reg.RedirectURIs[0],
	}, "127.0.0.1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	// client_id comes from Basic auth, not the form
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {result.Code},
		"redirect_uri": {reg.RedirectURIs[0]},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(reg.ClientID, reg.ClientSecret)
	w := httptest.NewRecorder()

	handler.ServeToken(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ServeToken_JSONBody(t *testing.T) {
	handler, server := setupTestHandler(t)

	reg, err := server.RegisterClient(context.Background(), nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	result, err := server.Authorize(context.Background(), &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     reg.ClientID,
		RedirectURI:  reg.RedirectURIs[0],
	}, "127.0.0.1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type":   "authorization_code",
		"code":         result.Code,
		"client_id":    reg.ClientID,
		"redirect_uri": reg.RedirectURIs[0],
	})
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeToken(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ServeToken_UnsupportedGrantType(t *testing.T) {
	handler, _ := setupTestHandler(t)

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.ServeToken(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if errResp.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want unsupported_grant_type", errResp.Error)
	}
}

func TestHandler_ServeToken_MissingCode(t *testing.T) {
	handler, _ := setupTestHandler(t)

	form := url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {SeedClientID},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.ServeToken(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandler_ServeJWKS(t *testing.T) {
	handler, server := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()

	handler.ServeJWKS(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var set struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Use string `json:"use"`
			Alg string `json:"alg"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(w.Body).Decode(&set); err != nil {
		t.Fatalf("failed to decode JWKS: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(set.Keys))
	}
	key := set.Keys[0]
	if key.Kty != "RSA" || key.Use != "sig" || key.Alg != "RS256" {
		t.Errorf("key = %+v", key)
	}
	if key.Kid != server.Keys().KeyID() {
		t.Errorf("kid = %q, want %q", key.Kid, server.Keys().KeyID())
	}
	if key.N == "" || key.E == "" {
		t.Error("key material missing")
	}
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()

	handler.ServeAuthorizationServerMetadata(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Issuer != "http://localhost:9000" {
		t.Errorf("issuer = %q", meta.Issuer)
	}
	if meta.TokenEndpoint != "http://localhost:9000/token" {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
}

func TestHandler_OptionsPreflight(t *testing.T) {
	handler, _ := setupTestHandler(t)

	endpoints := []struct {
		path  string
		serve http.HandlerFunc
	}{
		{"/register", handler.ServeClientRegistration},
		{"/authorize", handler.ServeAuthorization},
		{"/token", handler.ServeToken},
		{"/.well-known/jwks.json", handler.ServeJWKS},
		{"/.well-known/oauth-authorization-server", handler.ServeAuthorizationServerMetadata},
	}

	for _, ep := range endpoints {
		t.Run(ep.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, ep.path, nil)
			w := httptest.NewRecorder()

			ep.serve(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}
