// Package logging provides the structured logging used across mcpgate.
//
// It is a thin layer over log/slog that tags every entry with a subsystem
// name and keeps printf-style call sites short:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Broker", "Authorization started for %s", service)
//	logging.Error("Proxy", err, "Upstream request failed for %s", service)
//
// # Subsystems
//
//   - Bootstrap: process startup and shutdown
//   - Config: configuration loading and validation
//   - Registry: service descriptor loading and reloads
//   - TokenStore: token persistence
//   - Broker: OAuth discovery, authorization, exchange and refresh
//   - Proxy: request forwarding and stream handling
//   - Server: HTTP edge
//
// # Audit Logging
//
// Security-relevant events go through Audit and carry an [AUDIT] prefix:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "token_refreshed",
//	    Outcome: "success",
//	    Service: "jira",
//	})
//
// Access tokens, refresh tokens and PKCE verifiers are never logged. OAuth
// state values and request IDs are shortened with TruncateID.
package logging
