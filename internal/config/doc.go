// Package config provides configuration management for mcpgate.
//
// Configuration is loaded from config.yaml inside a configuration directory.
// The default directory is ~/.config/mcpgate; the --config-path flag selects
// another one.
//
// Values are resolved in this order:
//  1. built-in defaults (GetDefaultConfig)
//  2. config.yaml
//  3. environment overrides: MCPGATE_PUBLIC_URL, MCPGATE_PORT,
//     MCPGATE_TOKEN_SECRET, MCPGATE_TOKEN_DIR
//  4. service descriptors from the variable named by servicesEnv
//     (MCP_SERVERS by default), appended to the file's services
//
// Example:
//
//	server:
//	  port: 8090
//	  publicURL: https://mcpgate.example.com
//	tokens:
//	  backend: file
//	proxy:
//	  requestTimeout: 60s
//	services:
//	  - name: jira
//	    type: http
//	    url: https://mcp.atlassian.com/v1/sse
//	    proxy: true
//
// Validation failures are reported as a ConfigurationErrorCollection so all
// problems can be fixed in one pass.
package config
