// Package license answers the two entitlement questions asked before a
// connection may hold a session: does the license exist, and is its
// subscription active.
//
// # Components
//
//	- Store: resolves a key to a License record (MemoryStore, or the
//	  Postgres store in internal/session/postgres)
//	- Cache: TTL cache of lookups, including negative results
//	- Checker: Store + Cache with singleflight de-duplication of
//	  concurrent lookups for the same key
//	- ValidateKey / NewValidator: local key format check, also registered
//	  as the "licensekey" validator tag
//
// # Seed files
//
// The memory store is loaded from a YAML seed file:
//
//	licenses:
//	  - key: "abc"
//	    plan: "pro"
//	    status: "active"
//	    expires_at: "2027-01-01T00:00:00Z"
//
// A license without expires_at never lapses.
//
// # Logging
//
// Keys never appear in logs. Use Fingerprint, a short blake2b digest, to
// correlate log lines for one license.
package license
