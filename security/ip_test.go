package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			trustProxy: false,
			want:       "192.168.1.100",
		},
		{
			name:          "X-Forwarded-For with trust",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1, 10.0.0.2",
			trustProxy:    true,
			want:          "203.0.113.1",
		},
		{
			name:          "X-Forwarded-For without trust",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			trustProxy:    false,
			want:          "10.0.0.1",
		},
		{
			name:       "X-Real-IP with trust",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.1",
			trustProxy: true,
			want:       "203.0.113.1",
		},
		{
			name:       "X-Real-IP without trust",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.1",
			trustProxy: false,
			want:       "10.0.0.1",
		},
		{
			name:              "X-Forwarded-For with multiple proxies",
			remoteAddr:        "10.0.0.1:12345",
			xForwardedFor:     "203.0.113.1, 10.0.0.2, 10.0.0.3",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.1",
		},
		{
			name:          "malformed X-Forwarded-For falls back",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "not-an-ip",
			trustProxy:    true,
			want:          "10.0.0.1",
		},
		{
			name:       "IPv6 direct connection",
			remoteAddr: "[2001:db8::1]:12345",
			trustProxy: false,
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := GetClientIP(req, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
