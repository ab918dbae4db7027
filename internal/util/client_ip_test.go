package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{
			name:       "remote addr without forwarding",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "forwarded header ignored when untrusted",
			remoteAddr: "198.51.100.10:1234",
			xff:        "203.0.113.5",
			want:       "198.51.100.10",
		},
		{
			name:       "forwarded header used when trusted",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5",
			trust:      true,
			want:       "203.0.113.5",
		},
		{
			name:       "first hop of forwarded chain",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5, 10.0.0.10",
			trust:      true,
			want:       "203.0.113.5",
		},
		{
			name:       "invalid forwarded value falls back to remote addr",
			remoteAddr: "10.0.0.20:1234",
			xff:        "not-an-ip",
			trust:      true,
			want:       "10.0.0.20",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := ClientIP(req, tc.trust); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}
