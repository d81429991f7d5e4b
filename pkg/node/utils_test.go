package node

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHostPort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"node1", "node1:8080"},
		{"node1:9000", "node1:9000"},
		{"http://node1", "node1:8080"},
		{"https://node1:443", "node1:443"},
		{":8080", ":8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHostPort(tt.in, "8080"), tt.in)
	}
}

func TestAdvertiseURL(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.4")
	tests := []struct {
		listen, want string
	}{
		{":8080", "http://10.0.0.4:8080"},
		{"0.0.0.0:9090", "http://10.0.0.4:9090"},
		{"127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"status.local", "http://status.local:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AdvertiseURL(ip, tt.listen), tt.listen)
	}
}
