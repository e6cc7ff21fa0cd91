// Package server is the HTTP edge of mcpgate.
//
// It exposes the broker and the proxy over a small chi router:
//
//	GET    /health                   liveness
//	GET    /services                 configured services, secrets masked
//	POST   /authorize/{service}      start authorization, returns {"authUrl": ...}
//	DELETE /authorize/{service}      forget the stored token
//	GET    <callbackPath>            OAuth redirect target
//	POST   /proxy/{service}          JSON-RPC call, or raw body with ?target=
//	GET    /proxy/{service}          initialize, or SSE passthrough with ?target=
//	GET    /proxy/{service}/status   {isAuthorized, hasToken, isProxy, targetUrl}
//
// Errors are JSON objects with an error code and message. Upstream failures
// keep the upstream status code.
package server
