// Package registry holds the set of upstream MCP services mcpgate knows about.
//
// Descriptors come from the configuration file and from the MCP_SERVERS
// environment variable. The broker and the proxy only read them; the
// FileWatcher swaps the whole set when the configuration file changes.
package registry
