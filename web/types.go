package web

import (
	"context"
	"time"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
	"github.com/anibaldeboni/zero-paper/sensorhub/store"
	"github.com/anibaldeboni/zero-paper/sensorhub/telemetry"
)

// SensorReader is satisfied by *sensor.Poller.
type SensorReader interface {
	Poll(ctx context.Context) sensor.Snapshot
	Latest() (sensor.Snapshot, bool)
	Latency() map[string]float64
	Sources() []string
}

// TelemetryStatsProvider reports the delivery state of each sink.
type TelemetryStatsProvider interface {
	Stats() []telemetry.SinkStats
}

// PrimarySettings are the values another station may push with
// SetPrimaryConfiguration. Nil fields are left unchanged.
type PrimarySettings struct {
	StationName       *string
	RecordingInterval *time.Duration
	TriggerEnabled    *bool
	MemoryThresholdMB *int64
}

// ConfigStore exposes the station configuration to the handlers.
type ConfigStore interface {
	// Report is the configuration with secrets masked.
	Report() any
	// Path of the configuration file, empty when running on defaults.
	Path() string
	// ApplyPrimary validates and applies s, persisting it unless dryRun.
	ApplyPrimary(s PrimarySettings, dryRun bool) error
}

// StationInfo describes the running station.
type StationInfo struct {
	Hostname  string
	Version   string
	StartTime time.Time
	// DataDir holds temporary exports.
	DataDir string
	// LogDir is archived by DownloadZippedLogs.
	LogDir string
}

// Dependencies wires the server to the rest of the station. Store,
// Telemetry, Config and Restart may be nil.
type Dependencies struct {
	Station   StationInfo
	Sensors   SensorReader
	Store     store.TimeSeriesStore
	Telemetry TelemetryStatsProvider
	Config    ConfigStore
	// Restart asks the process to reload its configuration and services.
	Restart func()
}

// MeasurementResponse represents the JSON response for measurement endpoints
type MeasurementResponse struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Sources   []string           `json:"sources"`
}

// ErrorResponse represents the JSON response for errors
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  int       `json:"code"`
	Time  time.Time `json:"timestamp"`
}

// SystemData answers GetSystemData.
type SystemData struct {
	Hostname       string    `json:"hostname"`
	Version        string    `json:"version"`
	StartTime      time.Time `json:"start_time"`
	UptimeMinutes  float64   `json:"uptime_minutes"`
	CPUTemperature *float64  `json:"cpu_temperature_c,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
	ReadingsCount  int64     `json:"readings_count"`
}
