// Package services sits between the transports and the session core.
//
// # Available Services
//
//	- SessionService: decodes gateway frames, drives session.Manager and
//	  encodes the replies. It is the websocket.Dispatcher of the gateway and
//	  also backs the REST session endpoints.
//	- HealthService: liveness, readiness and runtime statistics over the hub,
//	  the session directory, the invalidation publisher and the database.
//
// # Frames
//
// Every frame on the push channel is a JSON envelope:
//
//	{"action": "validate", "data": {"licenseKey": "abc"}}
//
// Replies reuse the envelope with a SessionResult payload:
//
//	{"action": "validate_response", "data": {"status": true, "statusCode": 200, "message": "valid"}}
//
// Frames that cannot be decoded, or name an unknown action, are answered
// with an "error" envelope carrying statusCode 400. The connection stays open.
package services
