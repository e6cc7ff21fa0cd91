package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget(t *testing.T) {
	const service = "https://mcp.example.com/v1/mcp"

	tests := []struct {
		name     string
		override string
		want     string
		wantErr  bool
	}{
		{name: "no override uses service url", override: "", want: service},
		{name: "same origin", override: "https://mcp.example.com/v1/messages?session=abc", want: "https://mcp.example.com/v1/messages?session=abc"},
		{name: "explicit default port", override: "https://mcp.example.com:443/messages", want: "https://mcp.example.com:443/messages"},
		{name: "host is case insensitive", override: "https://MCP.example.com/messages", want: "https://MCP.example.com/messages"},
		{name: "other host", override: "https://evil.example.com/messages", wantErr: true},
		{name: "other scheme", override: "http://mcp.example.com/messages", wantErr: true},
		{name: "other port", override: "https://mcp.example.com:8443/messages", wantErr: true},
		{name: "relative", override: "/messages", wantErr: true},
		{name: "userinfo", override: "https://user:pw@mcp.example.com/messages", wantErr: true},
		{name: "dot dot", override: "https://mcp.example.com/v1/../admin", wantErr: true},
		{name: "encoded dot dot", override: "https://mcp.example.com/v1/%2e%2e/admin", wantErr: true},
		{name: "mixed encoding", override: "https://mcp.example.com/v1/.%2E/admin", wantErr: true},
		{name: "double encoded dot dot", override: "https://mcp.example.com/v1/%252e%252e/admin", wantErr: true},
		{name: "garbage", override: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTarget(service, tt.override)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTargetURL))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolveTarget_HTTPDefaultPort(t *testing.T) {
	got, err := ResolveTarget("http://localhost/mcp", "http://localhost:80/messages")
	require.NoError(t, err)
	assert.Equal(t, "/messages", got.Path)
}
