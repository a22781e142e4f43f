package server

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return addr
}

func TestNetworkID(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{name: "same ipv4 /24", a: "192.168.1.10", b: "192.168.1.250", same: true},
		{name: "different ipv4 /24", a: "192.168.1.10", b: "192.168.2.10", same: false},
		{name: "mapped ipv4", a: "::ffff:192.168.1.10", b: "192.168.1.99", same: true},
		{name: "same ipv6 /64", a: "2001:db8:1:2::1", b: "2001:db8:1:2:ffff::9", same: true},
		{name: "different ipv6 /64", a: "2001:db8:1:2::1", b: "2001:db8:1:3::1", same: false},
		{name: "ipv4 vs ipv6", a: "10.0.0.1", b: "::1", same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NetworkID(mustAddr(t, tt.a))
			b := NetworkID(mustAddr(t, tt.b))
			if tt.same {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}

func TestNetworkIDFormat(t *testing.T) {
	id := NetworkID(mustAddr(t, "192.168.1.10"))
	assert.Len(t, id, networkIDLength)
	assert.Regexp(t, "^[0-9a-f]+$", id)
	assert.NotContains(t, id, "192")
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{name: "socket address", remoteAddr: "192.168.1.10:5555", want: "192.168.1.10"},
		{name: "ipv6 socket address", remoteAddr: "[2001:db8::1]:5555", want: "2001:db8::1"},
		{name: "forwarded ignored by default", remoteAddr: "10.0.0.1:80", forwarded: "192.168.1.10", want: "10.0.0.1"},
		{name: "forwarded trusted", remoteAddr: "10.0.0.1:80", forwarded: "192.168.1.10, 10.0.0.1", trustProxy: true, want: "192.168.1.10"},
		{name: "garbage forwarded falls back", remoteAddr: "10.0.0.1:80", forwarded: "nope", trustProxy: true, want: "10.0.0.1"},
		{name: "unparseable remote", remoteAddr: "pipe", want: "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, mustAddr(t, tt.want), clientAddr(r, tt.trustProxy))
		})
	}
}
