package middleware

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "cloudflare header wins",
			headers:    map[string]string{"CF-Connecting-IP": "198.51.100.7", "X-Real-IP": "10.0.0.1"},
			remoteAddr: "10.0.0.2:1234",
			want:       "198.51.100.7",
		},
		{
			name:       "first forwarded address",
			headers:    map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"},
			remoteAddr: "10.0.0.2:1234",
			want:       "203.0.113.5",
		},
		{
			name:       "remote addr ipv4",
			remoteAddr: "192.0.2.10:5555",
			want:       "192.0.2.10",
		},
		{
			name:       "remote addr ipv6",
			remoteAddr: "[2001:db8::1]:5555",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/download", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
