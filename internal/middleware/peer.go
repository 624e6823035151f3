package middleware

import (
	"net"
	"net/http"
	"net/netip"
)

// PeerIP returns the address of the directly connected client. Proxy
// headers such as X-Forwarded-For are ignored: they are supplied by the
// client and would let anyone claim an artifact's allowed address.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	return addr.Unmap().WithZone("").String()
}
