package config

// Application constants
const (
	AppName = "sessiongate"

	// EnvPrefix namespaces every environment variable, e.g. SESSIONGATE_SERVER_PORT
	EnvPrefix = "SESSIONGATE"
	// ConfigFileEnv points at an explicit YAML config file
	ConfigFileEnv = "SESSIONGATE_CONFIG"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	DefaultLogFile  = "logs/sessiongate.log"
	DefaultSeedFile = "configs/licenses.yaml"
)

// Routes
const (
	APIBasePath       = "/api"
	HealthEndpoint    = "/api/health"
	SessionsEndpoint  = "/api/sessions"
	MetricsEndpoint   = "/metrics"
	WebSocketEndpoint = "/ws"

	// LicenseKeyParam carries the license key on the WebSocket upgrade request
	LicenseKeyParam = "licenseKey"
)
