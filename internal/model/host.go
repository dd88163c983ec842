package model

import (
	"net"
	"strings"
)

// NormalizeHost lowercases host and strips any port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// ValidSubdomain reports whether label is a single DNS label made of [a-z0-9-].
func ValidSubdomain(label string) bool {
	if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// ComposeHost builds {subdomain}.{central}.
func ComposeHost(subdomain, central string) string {
	return subdomain + "." + central
}

// ExtractSubdomain strips the central suffix from host and returns the remaining
// label. ok is false when host is not directly under central or the label is invalid.
func ExtractSubdomain(host, central string) (string, bool) {
	host, central = NormalizeHost(host), NormalizeHost(central)
	if central == "" {
		return "", false
	}
	label, found := strings.CutSuffix(host, "."+central)
	if !found || strings.Contains(label, ".") || !ValidSubdomain(label) {
		return "", false
	}
	return label, true
}
