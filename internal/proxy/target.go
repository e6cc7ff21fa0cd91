package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ResolveTarget returns the URL to forward to. An empty override selects
// the service URL. An override must share the service origin (scheme, host
// and port, with default ports made explicit) and its path must not contain
// "..", encoded or not.
func ResolveTarget(serviceURL, override string) (*url.URL, error) {
	base, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: service url: %v", ErrInvalidTargetURL, err)
	}
	if override == "" {
		return base, nil
	}

	target, err := url.Parse(override)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if !target.IsAbs() || target.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute url", ErrInvalidTargetURL, override)
	}
	if target.User != nil {
		return nil, fmt.Errorf("%w: credentials are not allowed", ErrInvalidTargetURL)
	}
	if !sameOrigin(base, target) {
		return nil, fmt.Errorf("%w: %s does not match the service origin", ErrInvalidTargetURL, origin(target))
	}
	if hasDotDot(target) {
		return nil, fmt.Errorf("%w: path traversal is not allowed", ErrInvalidTargetURL)
	}
	return target, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + net.JoinHostPort(u.Hostname(), effectivePort(u))
}

// hasDotDot checks the raw and decoded path. Decoding is repeated to catch
// double encoding.
func hasDotDot(u *url.URL) bool {
	p := u.EscapedPath()
	for i := 0; i < 3; i++ {
		if strings.Contains(p, "..") {
			return true
		}
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return true
		}
		if decoded == p {
			return false
		}
		p = decoded
	}
	return strings.Contains(p, "..")
}
