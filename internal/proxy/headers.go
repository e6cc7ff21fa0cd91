package proxy

import (
	"net/http"
	"strings"
)

// Client headers that never reach the upstream.
var deniedRequestHeaders = map[string]struct{}{
	"host":                {},
	"authorization":       {},
	"content-type":        {},
	"content-length":      {},
	"accept-encoding":    {},
	"connection":          {},
	"transfer-encoding":   {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
	"cookie":              {},
	"forwarded":           {},
	"x-real-ip":           {},
}

// Upstream headers that never reach the client.
var deniedResponseHeaders = map[string]struct{}{
	"connection":                {},
	"keep-alive":                {},
	"transfer-encoding":         {},
	"content-length":            {},
	"set-cookie":                {},
	"server":                    {},
	"x-powered-by":              {},
	"www-authenticate":          {},
	"alt-svc":                   {},
	"strict-transport-security": {},
}

// connectionTokens returns the lower-cased header names listed in Connection.
func connectionTokens(h http.Header) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				tokens[name] = struct{}{}
			}
		}
	}
	return tokens
}

func requestHeaderAllowed(name string, dynamic map[string]struct{}) bool {
	lower := strings.ToLower(name)
	if _, denied := deniedRequestHeaders[lower]; denied {
		return false
	}
	if strings.HasPrefix(lower, "x-forwarded-") {
		return false
	}
	_, denied := dynamic[lower]
	return !denied
}

// FilterRequestHeaders copies the client headers that may be forwarded.
func FilterRequestHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	dynamic := connectionTokens(in)
	for name, values := range in {
		if requestHeaderAllowed(name, dynamic) {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

// FilterResponseHeaders copies the upstream headers that may reach the client.
func FilterResponseHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	dynamic := connectionTokens(in)
	for name, values := range in {
		lower := strings.ToLower(name)
		if _, denied := deniedResponseHeaders[lower]; denied {
			continue
		}
		if _, denied := dynamic[lower]; denied {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func setDefault(h http.Header, name, value string) {
	if h.Get(name) == "" {
		h.Set(name, value)
	}
}
