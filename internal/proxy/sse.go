package proxy

import (
	"bytes"
	"io"
	"net/url"
	"regexp"
	"strings"
)

var endpointEventRe = regexp.MustCompile(`^event:\s*endpoint\s*$`)

// EndpointRewriter rewrites the data line of SSE "endpoint" events so that
// clients post their messages back through the proxy. It is an io.Writer
// that forwards complete lines immediately and holds a partial line until
// its newline arrives or Flush is called.
type EndpointRewriter struct {
	w         io.Writer
	publicURL *url.URL
	service   string
	upstream  *url.URL

	carry           []byte
	pendingEndpoint bool
}

// NewEndpointRewriter wraps w. Relative endpoint data is resolved against upstream.
func NewEndpointRewriter(w io.Writer, publicURL *url.URL, service string, upstream *url.URL) *EndpointRewriter {
	return &EndpointRewriter{
		w:         w,
		publicURL: publicURL,
		service:   service,
		upstream:  upstream,
	}
}

func (r *EndpointRewriter) Write(p []byte) (int, error) {
	r.carry = append(r.carry, p...)

	var out bytes.Buffer
	for {
		i := bytes.IndexByte(r.carry, '\n')
		if i < 0 {
			break
		}
		out.Write(r.processLine(r.carry[:i+1]))
		r.carry = r.carry[i+1:]
	}
	// Drop the consumed prefix so the buffer does not grow without bound.
	r.carry = append([]byte(nil), r.carry...)

	if out.Len() > 0 {
		if _, err := r.w.Write(out.Bytes()); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line unchanged.
func (r *EndpointRewriter) Flush() error {
	if len(r.carry) == 0 {
		return nil
	}
	_, err := r.w.Write(r.carry)
	r.carry = nil
	return err
}

func (r *EndpointRewriter) processLine(line []byte) []byte {
	content := strings.TrimRight(string(line), "\r\n")
	ending := string(line[len(content):])

	switch {
	case content == "":
		r.pendingEndpoint = false
	case strings.HasPrefix(content, "event:"):
		r.pendingEndpoint = endpointEventRe.MatchString(content)
	case r.pendingEndpoint && strings.HasPrefix(content, "data:"):
		r.pendingEndpoint = false
		value := strings.TrimSpace(strings.TrimPrefix(content, "data:"))
		return []byte("data: " + r.rewrite(value) + ending)
	}
	return line
}

func (r *EndpointRewriter) rewrite(value string) string {
	ref, err := url.Parse(value)
	if err != nil {
		return value
	}
	if r.pointsAtProxy(ref) {
		return value
	}

	abs := r.upstream.ResolveReference(ref)
	return ProxyURL(r.publicURL, r.service, abs.String())
}

// pointsAtProxy reports whether ref is already a proxy URL of this gateway.
// Relative references come from the upstream and are never treated as ours.
func (r *EndpointRewriter) pointsAtProxy(ref *url.URL) bool {
	if !ref.IsAbs() || !strings.EqualFold(ref.Host, r.publicURL.Host) {
		return false
	}
	if !strings.HasPrefix(ref.Path, strings.TrimSuffix(r.publicURL.Path, "/")+"/proxy/") {
		return false
	}
	return ref.Query().Get("target") != ""
}

// ProxyURL returns the public proxy URL that forwards to target for service.
func ProxyURL(publicURL *url.URL, service, target string) string {
	u := *publicURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/proxy/" + service
	u.RawPath = ""
	u.RawQuery = url.Values{"target": {target}}.Encode()
	u.Fragment = ""
	return u.String()
}
