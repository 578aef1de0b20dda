package tenant

import (
	"fmt"
	"net"
	"strings"
)

// NormalizeHost strips the port and trailing dot from a Host header value and
// lowercases it.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: empty host", errMalformedHost)
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || len(host) > 253 {
		return "", fmt.Errorf("%w: %q", errMalformedHost, host)
	}
	for _, r := range host {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' && r != '.' && r != ':' {
			return "", fmt.Errorf("%w: %q", errMalformedHost, host)
		}
	}
	return host, nil
}

// subdomainLabel returns the tenant label of host under baseDomain, if any.
// Only a single label directly under the base domain is a tenant; "www" is not.
func subdomainLabel(host, baseDomain string) (string, bool) {
	if baseDomain == "" {
		return "", false
	}
	suffix := "." + baseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "www" || strings.Contains(label, ".") || !IsValidSubdomain(label) {
		return "", false
	}
	return label, true
}

// IsValidSubdomain checks the label against ^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$
func IsValidSubdomain(subdomain string) bool {
	if len(subdomain) < 1 || len(subdomain) > 63 {
		return false
	}
	last := len(subdomain) - 1
	for i, r := range subdomain {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if i == 0 || i == last {
			if !alnum {
				return false
			}
		} else if !alnum && r != '-' {
			return false
		}
	}
	return true
}
