// Package http exposes the session registry over HTTP. Handlers are thin:
// they parse the request, call a service and render the result.
//
// # Routes
//
//	GET  /ws?licenseKey=<key>            WebSocket gateway; CONNECT runs on upgrade
//	GET  /api/health, /health/ready, /health/live, /version
//	GET  /api/metrics/stats, /api/metrics/gateway
//	GET  /api/sessions/{licenseKey}      bound record or 404
//	POST /api/sessions/validate          {licenseKey, connectionHandle}
//	GET  /metrics                        Prometheus exposition
//
// # Errors
//
// REST failures are rendered as RFC 7807 problem details by the shared
// errors.ErrorHandler, with the request ID echoed as trace_id:
//
//	{
//	    "type": "/errors/session/not-found",
//	    "title": "Session Not Found",
//	    "status": 404,
//	    "detail": "No connection is bound to this license",
//	    "instance": "/api/sessions/abc",
//	    "trace_id": "8d6f..."
//	}
//
// Session outcomes are not HTTP errors. The validate endpoint always answers
// 200 with the same validate_response envelope the gateway writes, including
// the fail-open {true, 500} result.
//
// # WebSocket
//
// The /ws route sits outside the API middleware group so the response writer
// can be hijacked. The upgrader shares the CORS origin allow list; requests
// without an Origin header (non-browser clients) are accepted.
package http
