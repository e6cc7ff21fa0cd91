package oauth

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// authParamRegex matches one auth-param: key="quoted value" or key=token.
var authParamRegex = regexp.MustCompile(`([\w-]+)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|([^\s,]+))`)

// ParseWWWAuthenticate parses a WWW-Authenticate value. When the value
// carries several challenges, the Bearer one is returned, else the first.
//
//	Bearer realm="https://auth.example.com", scope="openid profile"
//	Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"
//	Basic realm="x", Bearer error="invalid_token"
func ParseWWWAuthenticate(header string) (*AuthChallenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	challenges := splitChallenges(header)
	chosen := challenges[0]
	for _, c := range challenges {
		if strings.EqualFold(c.scheme, "Bearer") {
			chosen = c
			break
		}
	}

	params := parseAuthParams(chosen.params)
	challenge := &AuthChallenge{
		Scheme:              chosen.scheme,
		Realm:               params["realm"],
		ResourceMetadataURL: params["resource_metadata"],
		Scope:               params["scope"],
		Error:               params["error"],
		ErrorDescription:    params["error_description"],
	}
	if strings.HasPrefix(challenge.Realm, "https://") || strings.HasPrefix(challenge.Realm, "http://") {
		challenge.Issuer = challenge.Realm
	}
	return challenge, nil
}

type rawChallenge struct {
	scheme string
	params string
}

// splitChallenges cuts a header value into scheme + parameter segments.
// A comma-separated element starts a new challenge when its first word is
// not an auth-param, that is it carries no "=".
func splitChallenges(header string) []rawChallenge {
	var out []rawChallenge
	for _, elem := range splitOutsideQuotes(header) {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}
		word, rest, _ := strings.Cut(elem, " ")
		if !strings.Contains(word, "=") {
			out = append(out, rawChallenge{scheme: word, params: rest})
			continue
		}
		if len(out) == 0 {
			out = append(out, rawChallenge{})
		}
		out[len(out)-1].params += ", " + elem
	}
	if len(out) == 0 {
		out = append(out, rawChallenge{params: header})
	}
	return out
}

// splitOutsideQuotes splits s on commas that are not inside a quoted string.
func splitOutsideQuotes(s string) []string {
	var parts []string
	quoted := false
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func parseAuthParams(paramStr string) map[string]string {
	params := make(map[string]string)
	for _, match := range authParamRegex.FindAllStringSubmatch(paramStr, -1) {
		value := match[3]
		if value == "" {
			value = strings.ReplaceAll(match[2], `\"`, `"`)
		}
		params[strings.ToLower(match[1])] = value
	}
	return params
}

// ParseWWWAuthenticateFromResponse returns the challenge of a 401 response,
// or nil when there is none.
func ParseWWWAuthenticateFromResponse(resp *http.Response) *AuthChallenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	values := resp.Header.Values("WWW-Authenticate")
	if len(values) == 0 {
		return nil
	}

	challenge, err := ParseWWWAuthenticate(strings.Join(values, ", "))
	if err != nil {
		return nil
	}
	return challenge
}
