// Package config loads sessiongate configuration.
//
// # Configuration Sources
//
// Values are layered, later sources winning:
//
//	1. Default()
//	2. A YAML file: $SESSIONGATE_CONFIG, or sessiongate.yaml / configs/sessiongate.yaml
//	3. Environment variables
//
// # Environment Variables
//
// Variables are prefixed with SESSIONGATE and follow the section layout:
//
//	SESSIONGATE_SERVER_PORT=8080
//	SESSIONGATE_SESSION_DIRECTORY_BACKEND=postgres
//	SESSIONGATE_LICENSE_SOURCE=postgres
//	SESSIONGATE_DATABASE_URL=postgres://...
//	SESSIONGATE_SECURITY_API_KEYS=key1:ops,key2:billing
//
// # Validation
//
// Load rejects out-of-range ports, unknown backends, a postgres backend
// without a database URL and a memory license source without a seed file.
package config
