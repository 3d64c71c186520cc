package utilities

import (
	"net"
	"net/url"
	"strings"
)

// IsLocalRedirect reports whether a redirect target points back at the user's own machine.
// Such targets always require explicit consent: any local process can listen there.
func IsLocalRedirect(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return true
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified()
}

// ValidRedirectURI checks the registration rule: absolute http(s) uri without fragment
func ValidRedirectURI(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host != "" && u.Fragment == ""
}

// Domain returns the host of a redirect uri for display purposes
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
