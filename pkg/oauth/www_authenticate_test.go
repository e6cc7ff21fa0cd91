package oauth

import (
	"net/http"
	"reflect"
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *AuthChallenge
		wantErr bool
	}{
		{
			name:   "simple bearer",
			header: "Bearer",
			want: &AuthChallenge{
				Scheme: "Bearer",
			},
		},
		{
			name:   "bearer with realm",
			header: `Bearer realm="https://auth.example.com"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "https://auth.example.com",
				Issuer: "https://auth.example.com",
			},
		},
		{
			name:   "bearer with realm and scope",
			header: `Bearer realm="https://auth.example.com", scope="openid profile"`,
			want: &AuthChallenge{
				Scheme: "Bearer",
				Realm:  "https://auth.example.com",
				Issuer: "https://auth.example.com",
				Scope:  "openid profile",
			},
		},
		{
			name:   "bearer with resource_metadata",
			header: `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource?x=1"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource?x=1",
			},
		},
		{
			name:   "unquoted parameter",
			header: `Bearer error=invalid_token, resource_metadata="https://mcp.example.com/prm"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				Error:               "invalid_token",
				ResourceMetadataURL: "https://mcp.example.com/prm",
			},
		},
		{
			name:   "bearer with error",
			header: `Bearer error="invalid_token", error_description="The token has expired"`,
			want: &AuthChallenge{
				Scheme:           "Bearer",
				Error:            "invalid_token",
				ErrorDescription: "The token has expired",
			},
		},
		{
			name:   "bearer among several challenges",
			header: `Basic realm="legacy, v1", Bearer error="invalid_token", resource_metadata="https://mcp.example.com/prm"`,
			want: &AuthChallenge{
				Scheme:              "Bearer",
				Error:               "invalid_token",
				ResourceMetadataURL: "https://mcp.example.com/prm",
			},
		},
		{
			name:   "escaped quote in value",
			header: `Bearer error_description="say \"hi\""`,
			want: &AuthChallenge{
				Scheme:           "Bearer",
				ErrorDescription: `say "hi"`,
			},
		},
		{
			name:    "empty header",
			header:  "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWWWAuthenticate(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseWWWAuthenticateFromResponse(t *testing.T) {
	t.Run("401 with header", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusUnauthorized,
			Header:     http.Header{"Www-Authenticate": []string{`Bearer resource_metadata="https://x/prm"`}},
		}
		c := ParseWWWAuthenticateFromResponse(resp)
		if c == nil || c.ResourceMetadataURL != "https://x/prm" {
			t.Fatalf("unexpected challenge %+v", c)
		}
		if !c.IsOAuthChallenge() {
			t.Error("expected OAuth challenge")
		}
	})

	t.Run("multiple header values", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusUnauthorized,
			Header: http.Header{"Www-Authenticate": []string{
				`Basic realm="x"`,
				`Bearer scope="files:read"`,
			}},
		}
		c := ParseWWWAuthenticateFromResponse(resp)
		if c == nil || c.Scheme != "Bearer" || c.Scope != "files:read" {
			t.Fatalf("unexpected challenge %+v", c)
		}
	})

	t.Run("non-401", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
		if c := ParseWWWAuthenticateFromResponse(resp); c != nil {
			t.Errorf("expected nil, got %+v", c)
		}
	})

	t.Run("nil response", func(t *testing.T) {
		if c := ParseWWWAuthenticateFromResponse(nil); c != nil {
			t.Errorf("expected nil, got %+v", c)
		}
	})
}
