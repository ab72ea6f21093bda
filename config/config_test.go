package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/anibaldeboni/zero-paper/sensorhub/web"
)

func TestConfigConcurrentAccess(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load("../test-config.yaml")
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Web.Port)
	require.Equal(t, "../test-config.yaml", LoadedPath())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.Equal(t, 9090, Get().Web.Port)
			}
		}()
	}
	wg.Wait()
}

func TestConfigFromFile(t *testing.T) {
	cfg, err := ReadFile("../test-config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lab-station", cfg.Hostname())
	assert.Equal(t, 2*time.Minute, cfg.Web.WriteTimeout)
	assert.True(t, cfg.Web.TLS.Enabled)
	assert.Equal(t, []string{"192.168.10.11", "[fe80::1]:10066"}, cfg.SensorControl.Addresses)
	assert.Equal(t, 3*time.Second, cfg.SensorControl.StatusTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SensorControl.DownloadTimeout)
	assert.EqualValues(t, 20, cfg.SensorControl.MemoryThresholdMB)
	assert.Equal(t, map[string]float64{"temperature_c": 0.5, "humidity_pct": 2}, cfg.Recording.Trigger.Variances)
	assert.Equal(t, "/tmp/sensorhub-test/sensor_readings.sqlite", cfg.Recording.Database)
	assert.Equal(t, "/tmp/sensorhub-test/logs", cfg.Logging.Dir)
	assert.EqualValues(t, 1, cfg.Telemetry.MQTT.QoS)
	assert.Equal(t, "sensorhub", cfg.Telemetry.MQTT.BaseTopic)
}

func TestConfigDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load("non-existent-file.yaml")
	require.NoError(t, err)
	assert.Empty(t, LoadedPath())

	assert.Equal(t, 10065, cfg.Web.Port)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, SensorSimulated, cfg.Sensors.BME280.Type)
	assert.True(t, cfg.Sensors.BME280.Enabled)
	assert.EqualValues(t, 50, cfg.SensorControl.MemoryThresholdMB)
	assert.Equal(t, 5*time.Second, cfg.SensorControl.StatusTimeout)
	assert.Equal(t, "Kootnet", cfg.SensorControl.Username)
	assert.Equal(t, "sensors", cfg.SensorControl.Password)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigInvalidFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web:\n  port: 70000\nsensors:\n  bme280:\n    type: lidar\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web.port")
	assert.Contains(t, err.Error(), "lidar")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AppConfig)
		want   string
	}{
		{"bad address", func(c *AppConfig) { c.SensorControl.Addresses = []string{"10.0.0.1:abc"} }, "sensor_control.addresses"},
		{"negative threshold", func(c *AppConfig) { c.SensorControl.MemoryThresholdMB = -1 }, "memory_threshold_mb"},
		{"short interval", func(c *AppConfig) { c.Recording.Interval = time.Millisecond }, "recording.interval"},
		{"zero variance", func(c *AppConfig) { c.Recording.Trigger.Variances = map[string]float64{"pressure_hpa": 0} }, "variances.pressure_hpa"},
		{"wu without key", func(c *AppConfig) { c.Telemetry.WeatherUnderground.Enabled = true }, "weather_underground"},
		{"openweather without station", func(c *AppConfig) {
			c.Telemetry.OpenWeather = OpenWeatherConfig{Enabled: true, AppID: "key"}
		}, "telemetry.openweather"},
		{"bad qos", func(c *AppConfig) { c.Telemetry.MQTT.QoS = 3 }, "qos"},
		{"bad level", func(c *AppConfig) { c.Logging.Level = "loud" }, "log level"},
		{"half tls", func(c *AppConfig) { c.Web.TLS = TLSConfig{Enabled: true, CertFile: "c.pem"} }, "web.tls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TestConfig(t.TempDir())
			require.NoError(t, cfg.Validate())
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg, err := ReadFile("../test-config.yaml")
	require.NoError(t, err)

	masked := cfg.Masked()
	assert.Equal(t, "********", masked.Auth.Password)
	assert.Equal(t, "********", masked.SensorControl.Password)
	assert.Equal(t, "********", masked.Telemetry.MQTT.Password)
	assert.Empty(t, masked.Telemetry.Broker.Password)

	assert.Equal(t, "remote-secret", cfg.SensorControl.Password)
	masked.SensorControl.Addresses[0] = "changed"
	assert.Equal(t, "192.168.10.11", cfg.SensorControl.Addresses[0])
}

func TestConfigAdapters(t *testing.T) {
	cfg, err := ReadFile("../test-config.yaml")
	require.NoError(t, err)

	webConfig := cfg.WebConfig()
	assert.Equal(t, 9090, webConfig.Port)
	assert.True(t, webConfig.TLS)
	assert.Equal(t, "/tmp/sensorhub-test/tls", webConfig.CertDir)

	queueConfig := cfg.QueueConfig()
	assert.Equal(t, 1, queueConfig.Workers)
	assert.Equal(t, 2, queueConfig.RetryPolicy.MaxRetries)
	assert.Equal(t, 30*time.Second, queueConfig.ShutdownTimeout)

	settings := cfg.ControlSettings()
	assert.EqualValues(t, 20<<20, settings.MemoryThreshold)
	assert.Equal(t, "lab-station", settings.Hostname)
	assert.Equal(t, "remote-secret", cfg.RemoteCredentials().Password)

	assert.EqualValues(t, 0x76, cfg.BME280Config().Address)
	assert.Equal(t, 15.0, cfg.SimulatedConfig().MinTemp)
	assert.Equal(t, 980.0, cfg.SimulatedConfig().MinPressure)
	assert.Equal(t, 0x43, cfg.INA219Config().Address)
	assert.Equal(t, "/proc/uptime", cfg.SystemSource().UptimePath)

	mqtt := cfg.MQTTConfig()
	assert.Equal(t, "tcp://localhost:1883", mqtt.Broker)
	assert.Equal(t, 30*time.Second, mqtt.Timeout)

	logCfg := cfg.LogConfig()
	assert.Equal(t, "debug", logCfg.Level)
	assert.False(t, logCfg.Console)
}

func TestFileStoreApplyPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorhub.yaml")
	store := NewFileStore(path, TestConfig(t.TempDir()))

	name := "porch"
	interval := 2 * time.Minute
	enabled := true
	threshold := int64(80)
	require.NoError(t, store.ApplyPrimary(web.PrimarySettings{
		StationName:       &name,
		RecordingInterval: &interval,
		TriggerEnabled:    &enabled,
		MemoryThresholdMB: &threshold,
	}, false))

	cur := store.Current()
	assert.Equal(t, "porch", cur.Station.Name)
	assert.Equal(t, 2*time.Minute, cur.Recording.Interval)
	assert.True(t, cur.Recording.Trigger.Enabled)
	assert.EqualValues(t, 80, cur.SensorControl.MemoryThresholdMB)

	saved, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "porch", saved.Station.Name)
	assert.Equal(t, 2*time.Minute, saved.Recording.Interval)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStoreRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorhub.yaml")
	store := NewFileStore(path, TestConfig(t.TempDir()))

	bad := time.Millisecond
	require.Error(t, store.ApplyPrimary(web.PrimarySettings{RecordingInterval: &bad}, false))
	assert.Equal(t, 5*time.Minute, store.Current().Recording.Interval)
	assert.NoFileExists(t, path)

	ok := time.Minute
	require.NoError(t, store.ApplyPrimary(web.PrimarySettings{RecordingInterval: &ok}, true))
	assert.Equal(t, 5*time.Minute, store.Current().Recording.Interval, "dry run must not apply")
	assert.NoFileExists(t, path)
}

func TestReportIsMasked(t *testing.T) {
	store := NewFileStore("", TestConfig(t.TempDir()))
	report, ok := store.Report().(*AppConfig)
	require.True(t, ok)
	assert.Equal(t, "********", report.Auth.Password)
	assert.Error(t, store.Save())
}

func TestGenerateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sensorhub.yaml")
	require.NoError(t, GenerateExampleConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "sensor_control")

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.SensorControl.Addresses, 2)
	assert.Equal(t, 5*time.Minute, cfg.Recording.Interval)
}
