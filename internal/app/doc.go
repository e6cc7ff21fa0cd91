// Package app wires mcpgate together and runs it.
//
// NewApplication loads configuration, configures logging and builds the
// component graph: service registry, token store, broker, proxy and HTTP
// server. Run then serves until the process is told to stop. While serving
// it refreshes tokens that are about to expire, optionally reloads service
// descriptors when config.yaml changes, and reports readiness to systemd
// when started under a notify socket.
package app
