package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("generated request IDs should be unique")
	}
	if len(id1) != 22 {
		t.Errorf("len(id) = %d, want 22", len(id1))
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q fails validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty ctx) = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		incomingID   string
		wantPreserve bool
	}{
		{"no incoming ID", "", false},
		{"valid incoming ID", "upstream-request-42", true},
		{"injection attempt replaced", "bad\r\nSet-Cookie: x", false},
		{"oversized ID replaced", strings.Repeat("a", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incomingID != "" {
				req.Header.Set(RequestIDHeader, tt.incomingID)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if seenID == "" {
				t.Fatal("no request ID in handler context")
			}
			if tt.wantPreserve && seenID != tt.incomingID {
				t.Errorf("ID = %q, want preserved %q", seenID, tt.incomingID)
			}
			if !tt.wantPreserve && seenID == tt.incomingID {
				t.Error("invalid ID should have been replaced")
			}
			if got := w.Header().Get(RequestIDHeader); got != seenID {
				t.Errorf("response header = %q, want %q", got, seenID)
			}
		})
	}
}
