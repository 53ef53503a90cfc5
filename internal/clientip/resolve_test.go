package clientip

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "none", want: Unknown},
		{name: "forwarded single", headers: map[string]string{"X-Forwarded-For": "203.0.113.7"}, want: "203.0.113.7"},
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1, 10.0.0.2"}, want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, want: "198.51.100.4"},
		{name: "cloudflare", headers: map[string]string{"CF-Connecting-IP": "192.0.2.9"}, want: "192.0.2.9"},
		{
			name: "forwarded wins",
			headers: map[string]string{
				"X-Forwarded-For":  "203.0.113.7",
				"X-Real-IP":        "198.51.100.4",
				"CF-Connecting-IP": "192.0.2.9",
			},
			want: "203.0.113.7",
		},
		{
			name:    "real ip beats cloudflare",
			headers: map[string]string{"X-Real-IP": "198.51.100.4", "CF-Connecting-IP": "192.0.2.9"},
			want:    "198.51.100.4",
		},
		{name: "not validated", headers: map[string]string{"X-Real-IP": "not-an-ip"}, want: "not-an-ip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ResolveKey(h))
		})
	}
}
