package config

import (
	"path/filepath"

	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/queue"
	"github.com/anibaldeboni/zero-paper/sensorhub/web"
)

// TestConfig returns a configuration for testing purposes, rooted at dir.
func TestConfig(dir string) *AppConfig {
	cfg := &AppConfig{
		Station: StationConfig{Name: "test-station", DataDir: dir},
		Auth:    AuthConfig{Username: "Kootnet", Password: "sensors"},
		SensorControl: SensorControlConfig{
			Username: "Kootnet",
			Password: "sensors",
		},
		Logging: LoggingConfig{Dir: filepath.Join(dir, "logs")},
	}
	applyDefaults(cfg)
	return cfg
}

// TestWebConfig returns a web config for testing
func TestWebConfig(dir string) *web.Config {
	return TestConfig(dir).WebConfig()
}

// TestQueueConfig returns a queue config for testing
func TestQueueConfig() queue.QueueConfig {
	return TestConfig("").QueueConfig()
}

// TestControlSettings returns Sensor Control settings for testing
func TestControlSettings(dir string) control.Settings {
	return TestConfig(dir).ControlSettings()
}
