// ABOUTME: Agent identity helpers derived from request headers
// ABOUTME: Hostnames are upper-cased; IPs prefer proxy headers over the socket address

package gateway

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
)

// clientHostname resolves the agent hostname from X-Hostname, then the first
// label of Host, then a random CLIENT-N placeholder.
func clientHostname(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("X-Hostname")); h != "" {
		return strings.ToUpper(h)
	}
	if label := hostLabel(r.Host); label != "" {
		return strings.ToUpper(label)
	}
	return fmt.Sprintf("CLIENT-%d", rand.IntN(999))
}

// socketHostname also accepts a hostname query parameter, since browser-style
// WebSocket clients cannot always set headers.
func socketHostname(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("X-Hostname")); h != "" {
		return strings.ToUpper(h)
	}
	if h := strings.TrimSpace(r.URL.Query().Get("hostname")); h != "" {
		return strings.ToUpper(h)
	}
	return clientHostname(r)
}

func hostLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return strings.TrimSpace(label)
}

// clientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address without its port.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
