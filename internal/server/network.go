package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const networkIDLength = 16

// NetworkID derives the room id for a client address. Addresses in the same
// IPv4 /24 or IPv6 /64 map to the same id, so devices on one LAN land in
// the same room. The raw address is never exposed.
func NetworkID(addr netip.Addr) string {
	addr = addr.Unmap()

	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	sum := sha256.Sum256([]byte(prefix.Masked().String()))
	return hex.EncodeToString(sum[:])[:networkIDLength]
}

// clientAddr returns the address the request came from. X-Forwarded-For is
// only consulted when trustProxy is set.
func clientAddr(r *http.Request, trustProxy bool) netip.Addr {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr
	}
	return netip.IPv4Unspecified()
}

// requestNetworkID is NetworkID applied to the request's client address.
func requestNetworkID(r *http.Request, trustProxy bool) string {
	return NetworkID(clientAddr(r, trustProxy))
}
