package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// ClientCounter reports live gateway connections
type ClientCounter interface {
	ClientCount() int
}

// SessionCounter reports bound licenses
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

// QueueDepth reports queued invalidation notifications
type QueueDepth interface {
	Pending() int
}

// Pinger checks a backing database
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDependencies groups the components checked for readiness.
// Nil members are skipped.
type HealthDependencies struct {
	Hub       ClientCounter
	Sessions  SessionCounter
	Publisher QueueDepth
	Database  Pinger
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	repoURL   string
	buildTime string
	buildID   string
	deps      HealthDependencies
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds        float64 `json:"uptime_seconds"`
	WebSocketClients     int     `json:"websocket_clients"`
	ActiveSessions       int     `json:"active_sessions"`
	PendingInvalidations int     `json:"pending_invalidations"`
	GoVersion            string  `json:"go_version"`
	OS                   string  `json:"os"`
	Arch                 string  `json:"arch"`
}

// NewHealthService creates a new health service with injected dependencies
func NewHealthService(version, repoURL string, deps HealthDependencies, logger *slog.Logger) *HealthService {
	return NewHealthServiceWithBuildInfo(version, repoURL, "", "", deps, logger)
}

// NewHealthServiceWithBuildInfo creates a new health service with build information
func NewHealthServiceWithBuildInfo(version, repoURL, buildTime, buildID string, deps HealthDependencies, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime),
		slog.String("build_id", buildID))

	return &HealthService{
		version:   version,
		repoURL:   repoURL,
		buildTime: buildTime,
		buildID:   buildID,
		deps:      deps,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	status.Services["websocket"] = hs.checkWebSocketHealth()
	status.Services["sessions"] = hs.checkSessionHealth(ctx)
	if hs.deps.Database != nil {
		status.Services["database"] = hs.checkDatabaseHealth(ctx)
	}

	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"repo_url":     hs.repoURL,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}

	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	if hs.buildID != "" {
		result["build_id"] = hs.buildID
	}

	return result
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) (SystemStats, error) {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}

	if hs.deps.Hub != nil {
		stats.WebSocketClients = hs.deps.Hub.ClientCount()
	}
	if hs.deps.Publisher != nil {
		stats.PendingInvalidations = hs.deps.Publisher.Pending()
	}
	if hs.deps.Sessions != nil {
		active, err := hs.deps.Sessions.ActiveSessions(ctx)
		if err != nil {
			return stats, fmt.Errorf("count sessions: %w", err)
		}
		stats.ActiveSessions = active
	}

	return stats, nil
}

func (hs *HealthService) checkWebSocketHealth() ServiceHealth {
	if hs.deps.Hub == nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "websocket hub not initialized",
		}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.deps.Hub.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) checkSessionHealth(ctx context.Context) ServiceHealth {
	if hs.deps.Sessions == nil {
		return ServiceHealth{
			Status:  "not_ready",
			Message: "session directory not initialized",
		}
	}

	active, err := hs.deps.Sessions.ActiveSessions(ctx)
	if err != nil {
		hs.logger.WarnContext(ctx, "session directory not ready", slog.String("error", err.Error()))
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("session directory error: %v", err),
		}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d sessions bound", active),
	}
}

func (hs *HealthService) checkDatabaseHealth(ctx context.Context) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := hs.deps.Database.Ping(ctx); err != nil {
		hs.logger.WarnContext(ctx, "database not ready", slog.String("error", err.Error()))
		return ServiceHealth{
			Status:  "not_ready",
			Message: fmt.Sprintf("database error: %v", err),
		}
	}

	return ServiceHealth{
		Status:  "ready",
		Message: "database is reachable",
	}
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	stats, _ := hs.SystemStats(ctx)

	return map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
		"stats":     stats,
	}
}
