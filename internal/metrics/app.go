package metrics

import (
	"time"

	"github.com/benetwork/benetwork/internal/observability"
)

// Application-level metrics.
var (
	CommandsTotal = "benetwork_commands_total"

	BatchInFlight = "benetwork_batch_in_flight"

	HealthCheckTotal    = "benetwork_health_check_total"
	HealthCheckDuration = "benetwork_health_check_duration_ms"

	ServerStartTime = "benetwork_server_start_time_seconds"
	ServerUptime    = "benetwork_server_uptime_seconds"
)

// RecordCommand records a CLI or admin command with its result.
func RecordCommand(command string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CommandsTotal,
			1,
			map[string]string{
				"command": command,
				"status":  status,
			},
		)
	}
}

// SetBatchInFlight sets the number of batch requests currently running.
func SetBatchInFlight(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(BatchInFlight, float64(count), nil)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  checkName,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": checkName},
	)
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}
