package reqctx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{"forwarded", "198.51.100.4", "", "10.0.0.1:443", "198.51.100.4"},
		{"forwarded chain keeps client", "198.51.100.4, 10.1.2.3", "", "10.0.0.1:443", "198.51.100.4"},
		{"forwarded padded", " 198.51.100.4 ", "", "10.0.0.1:443", "198.51.100.4"},
		{"forwarded beats real ip", "198.51.100.4", "10.9.9.9", "10.0.0.1:443", "198.51.100.4"},
		{"real ip", "", "198.51.100.5", "10.0.0.1:443", "198.51.100.5"},
		{"remote with port", "", "", "192.0.2.10:5050", "192.0.2.10"},
		{"remote bare", "", "", "192.0.2.10", "192.0.2.10"},
		{"ipv6 remote", "", "", "[2001:db8::7]:443", "2001:db8::7"},
		{"ipv6 remote bracketed", "", "", "[2001:db8::8]", "2001:db8::8"},
		{"ipv6 forwarded", "2001:db8::9", "", "10.0.0.1:443", "2001:db8::9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/invite/ABCD2345", http.NoBody)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "192.0.2.7:5555"
	r.Header.Set("User-Agent", "AlmostOut/3.1 (iOS)")
	ctx := WithRequest(r.Context(), r)
	if got := ClientIP(ctx); got != "192.0.2.7" {
		t.Errorf("ClientIP = %q", got)
	}
	if got := UserAgent(ctx); got != "AlmostOut/3.1 (iOS)" {
		t.Errorf("UserAgent = %q", got)
	}
	if got := ClientIP(t.Context()); got != "" {
		t.Errorf("ClientIP(empty) = %q", got)
	}
}
