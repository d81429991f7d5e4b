package node

import (
	"net"
	"net/netip"
	"strings"
)

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

// AdvertiseURL turns a listen address such as ":8080" or "0.0.0.0:8080" into
// a URL other hosts can reach, using ip for an empty or unspecified host.
func AdvertiseURL(ip netip.Addr, listen string) string {
	hp := NormalizeHostPort(listen, "8080")
	host, port, err := net.SplitHostPort(hp)
	if err != nil {
		return "http://" + hp
	}
	if a, err := netip.ParseAddr(host); host == "" || (err == nil && a.IsUnspecified()) {
		host = ip.String()
	}
	return "http://" + net.JoinHostPort(host, port)
}
