package oauthd

import (
	"net/http"
	"testing"
)

func TestOAuthError_Error(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "code expired", http.StatusBadRequest)
	want := "invalid_grant: code expired"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOAuthErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		construct  func(string) *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid_request", ErrInvalidRequest, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid_grant", ErrInvalidGrant, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid_client", ErrInvalidClient, ErrorCodeInvalidClient, http.StatusBadRequest},
		{"unsupported_grant_type", ErrUnsupportedGrantType, ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"unsupported_response_type", ErrUnsupportedResponseType, ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"server_error", ErrServerError, ErrorCodeServerError, http.StatusInternalServerError},
		{"access_denied", ErrAccessDenied, ErrorCodeAccessDenied, http.StatusForbidden},
		{"invalid_redirect_uri", ErrInvalidRedirectURI, ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.construct("description")
			if err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", err.Code, tt.wantCode)
			}
			if err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", err.Status, tt.wantStatus)
			}
			if err.Description != "description" {
				t.Errorf("Description = %q", err.Description)
			}
		})
	}
}
