// Package config provides centralized configuration management for the station.
// It supports loading configuration from YAML files with fallback to sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// Sensor types accepted by sensors.bme280.type.
const (
	SensorHardware  = "hardware"
	SensorSimulated = "simulated"
)

const secretMask = "********"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Station       StationConfig       `yaml:"station"`
	Web           WebConfig           `yaml:"web"`
	Auth          AuthConfig          `yaml:"auth"`
	SensorControl SensorControlConfig `yaml:"sensor_control"`
	Sensors       SensorsConfig       `yaml:"sensors"`
	Recording     RecordingConfig     `yaml:"recording"`
	Queue         QueueConfig         `yaml:"queue"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Logging       LoggingConfig       `yaml:"logging"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
}

// StationConfig identifies this station.
type StationConfig struct {
	// Name overrides the OS hostname in reports and artifact names.
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`
}

// WebConfig contains HTTP server configuration
type WebConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	TLS          TLSConfig     `yaml:"tls"`
}

// TLSConfig enables HTTPS. Without cert and key files a self-signed pair is
// generated under the data directory.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig is the login other stations and operators use against this one.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SensorControlConfig configures the fan-out to remote stations.
type SensorControlConfig struct {
	Addresses []string `yaml:"addresses"`
	// Login presented to remote stations.
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	StatusTimeout     time.Duration `yaml:"status_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	MemoryThresholdMB int64         `yaml:"memory_threshold_mb"`
}

// SensorsConfig lists the local sources.
type SensorsConfig struct {
	BME280 BME280Config `yaml:"bme280"`
	INA219 INA219Config `yaml:"ina219"`
	System SystemConfig `yaml:"system"`
}

// BME280Config contains BME280 sensor configuration
type BME280Config struct {
	Enabled    bool      `yaml:"enabled"`
	Type       string    `yaml:"type"` // "hardware" or "simulated"
	I2CAddress uint16    `yaml:"i2c_address"`
	I2CBus     string    `yaml:"i2c_bus"`
	Simulation SimConfig `yaml:"simulation"`
}

// SimConfig contains simulation parameters
type SimConfig struct {
	MinTemperature float64 `yaml:"min_temperature"`
	MaxTemperature float64 `yaml:"max_temperature"`
	MinHumidity    float64 `yaml:"min_humidity"`
	MaxHumidity    float64 `yaml:"max_humidity"`
	MinPressure    float64 `yaml:"min_pressure"` // hPa
	MaxPressure    float64 `yaml:"max_pressure"` // hPa
}

type INA219Config struct {
	Enabled    bool   `yaml:"enabled"`
	I2CAddress int    `yaml:"i2c_address"`
	I2CBus     string `yaml:"i2c_bus"`
}

type SystemConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ThermalPath string `yaml:"thermal_path"`
	UptimePath  string `yaml:"uptime_path"`
}

// RecordingConfig controls what is written to the local database.
type RecordingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Database string        `yaml:"database"`
	Interval time.Duration `yaml:"interval"`
	Trigger  TriggerConfig `yaml:"trigger"`
}

// TriggerConfig records single values that move by at least their variance.
type TriggerConfig struct {
	Enabled       bool               `yaml:"enabled"`
	CheckInterval time.Duration      `yaml:"check_interval"`
	Variances     map[string]float64 `yaml:"variances"`
}

// QueueConfig contains queue processing configuration
type QueueConfig struct {
	Workers    int           `yaml:"workers"`
	BufferSize int           `yaml:"buffer_size"`
	Retry      RetryConfig   `yaml:"retry"`
	Circuit    CircuitConfig `yaml:"circuit_breaker"`
}

// RetryConfig contains retry policy configuration
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// CircuitConfig contains circuit breaker configuration
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures the online services readings are sent to.
type TelemetryConfig struct {
	Timeout            time.Duration            `yaml:"timeout"`
	WeatherUnderground WeatherUndergroundConfig `yaml:"weather_underground"`
	Luftdaten          LuftdatenConfig          `yaml:"luftdaten"`
	OpenSenseMap       OpenSenseMapConfig       `yaml:"open_sense_map"`
	OpenWeather        OpenWeatherConfig        `yaml:"openweather"`
	MQTT               MQTTConfig               `yaml:"mqtt"`
	Broker             BrokerConfig             `yaml:"broker"`
}

type WeatherUndergroundConfig struct {
	Enabled   bool          `yaml:"enabled"`
	StationID string        `yaml:"station_id"`
	Password  string        `yaml:"password"`
	Interval  time.Duration `yaml:"interval"`
}

type LuftdatenConfig struct {
	Enabled  bool          `yaml:"enabled"`
	SensorID string        `yaml:"sensor_id"`
	Interval time.Duration `yaml:"interval"`
}

type OpenSenseMapConfig struct {
	Enabled bool   `yaml:"enabled"`
	BoxID   string `yaml:"box_id"`
	// SensorIDs maps reading fields to senseBox sensor IDs.
	SensorIDs map[string]string `yaml:"sensor_ids"`
	Interval  time.Duration     `yaml:"interval"`
}

// OpenWeatherConfig posts to a station registered with the OpenWeather
// stations API.
type OpenWeatherConfig struct {
	Enabled   bool          `yaml:"enabled"`
	AppID     string        `yaml:"app_id"`
	StationID string        `yaml:"station_id"`
	Interval  time.Duration `yaml:"interval"`
}

type MQTTConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	BaseTopic string        `yaml:"base_topic"`
	QoS       byte          `yaml:"qos"`
	Retained  bool          `yaml:"retained"`
	Interval  time.Duration `yaml:"interval"`
}

// BrokerConfig runs an MQTT broker inside the station.
type BrokerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains log output configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// TimeoutConfig contains various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	QueueShutdownTimeout time.Duration `yaml:"queue_shutdown_timeout"`
	WebShutdownTimeout   time.Duration `yaml:"web_shutdown_timeout"`
	ProcessingTimeout    time.Duration `yaml:"processing_timeout"`
}

// ConfigLoader handles loading and caching of configuration
type ConfigLoader struct {
	config *AppConfig
	path   string
	mu     sync.RWMutex
	loaded bool
}

// Global instance - thread-safe singleton
var globalLoader = &ConfigLoader{}

// Load loads configuration from file or uses defaults when no file exists.
// A file that exists but does not parse or validate is an error.
func Load(configPath string) (*AppConfig, error) {
	globalLoader.mu.Lock()
	defer globalLoader.mu.Unlock()

	if globalLoader.loaded {
		return globalLoader.config, nil
	}

	config, path, err := loadConfigFromFile(configPath)
	switch {
	case errors.Is(err, errNotFound):
		config = defaultConfig()
	case err != nil:
		return nil, err
	}

	globalLoader.config = config
	globalLoader.path = path
	globalLoader.loaded = true

	return config, nil
}

// Get returns the cached configuration (must call Load first)
func Get() *AppConfig {
	globalLoader.mu.RLock()
	defer globalLoader.mu.RUnlock()

	if !globalLoader.loaded {
		panic("Configuration not loaded. Call config.Load() first.")
	}

	return globalLoader.config
}

// LoadedPath is the file the configuration came from, empty for defaults.
func LoadedPath() string {
	globalLoader.mu.RLock()
	defer globalLoader.mu.RUnlock()
	return globalLoader.path
}

// Reset forgets the cached configuration so the next Load reads the file
// again. Used when services restart.
func Reset() {
	globalLoader.mu.Lock()
	defer globalLoader.mu.Unlock()
	globalLoader.config = nil
	globalLoader.path = ""
	globalLoader.loaded = false
}

var errNotFound = errors.New("configuration file not found in any of the expected locations")

// SearchPaths lists where a configuration file is looked for, in order.
func SearchPaths(configPath string) []string {
	return []string{
		configPath,
		"sensorhub.yaml",
		"sensorhub.yml",
		"config/sensorhub.yaml",
		"config/sensorhub.yml",
		"/etc/sensorhub/sensorhub.yaml",
		"/etc/sensorhub.yaml",
	}
}

// loadConfigFromFile attempts to load configuration from a YAML file
func loadConfigFromFile(configPath string) (*AppConfig, string, error) {
	var configFile string
	for _, path := range SearchPaths(configPath) {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			configFile = path
			break
		}
	}
	if configFile == "" {
		return nil, "", errNotFound
	}

	config, err := ReadFile(configFile)
	if err != nil {
		return nil, "", err
	}
	return config, configFile, nil
}

// ReadFile parses, completes and validates one configuration file.
func ReadFile(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *AppConfig {
	config := &AppConfig{
		Auth: AuthConfig{Username: "Kootnet", Password: "sensors"},
		SensorControl: SensorControlConfig{
			Username: "Kootnet",
			Password: "sensors",
		},
		Sensors: SensorsConfig{
			BME280: BME280Config{Enabled: true},
			System: SystemConfig{Enabled: true},
		},
		Recording: RecordingConfig{Enabled: true},
		Logging:   LoggingConfig{Console: true},
	}
	applyDefaults(config)
	return config
}

// Default returns the configuration used when no file is found.
func Default() *AppConfig {
	return defaultConfig()
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *AppConfig) {
	// Station defaults
	if config.Station.DataDir == "" {
		config.Station.DataDir = "data"
	}

	// Web defaults
	if config.Web.Port == 0 {
		config.Web.Port = remote.DefaultPort
	}
	if config.Web.ReadTimeout == 0 {
		config.Web.ReadTimeout = 10 * time.Second
	}
	if config.Web.WriteTimeout == 0 {
		// downloads stream whole databases
		config.Web.WriteTimeout = 10 * time.Minute
	}
	if config.Web.IdleTimeout == 0 {
		config.Web.IdleTimeout = 120 * time.Second
	}

	// Sensor Control defaults
	if config.SensorControl.StatusTimeout == 0 {
		config.SensorControl.StatusTimeout = remote.DefaultTimeout
	}
	if config.SensorControl.DownloadTimeout == 0 {
		config.SensorControl.DownloadTimeout = 5 * time.Minute
	}
	if config.SensorControl.MemoryThresholdMB == 0 {
		config.SensorControl.MemoryThresholdMB = 50
	}

	// Sensor defaults
	if config.Sensors.BME280.Type == "" {
		config.Sensors.BME280.Type = SensorSimulated
	}
	if config.Sensors.BME280.I2CAddress == 0 {
		config.Sensors.BME280.I2CAddress = 0x76
	}
	sim := &config.Sensors.BME280.Simulation
	if sim.MinTemperature == 0 && sim.MaxTemperature == 0 {
		sim.MinTemperature = 15.0
		sim.MaxTemperature = 35.0
		sim.MinHumidity = 30.0
		sim.MaxHumidity = 80.0
		sim.MinPressure = 980
		sim.MaxPressure = 1020
	}
	if config.Sensors.INA219.I2CAddress == 0 {
		config.Sensors.INA219.I2CAddress = 0x43
	}
	if config.Sensors.INA219.I2CBus == "" {
		config.Sensors.INA219.I2CBus = "/dev/i2c-1"
	}
	if config.Sensors.System.ThermalPath == "" {
		config.Sensors.System.ThermalPath = "/sys/class/thermal/thermal_zone0/temp"
	}
	if config.Sensors.System.UptimePath == "" {
		config.Sensors.System.UptimePath = "/proc/uptime"
	}

	// Recording defaults
	if config.Recording.Database == "" {
		config.Recording.Database = filepath.Join(config.Station.DataDir, "sensor_readings.sqlite")
	}
	if config.Recording.Interval == 0 {
		config.Recording.Interval = 5 * time.Minute
	}
	if config.Recording.Trigger.CheckInterval == 0 {
		config.Recording.Trigger.CheckInterval = 15 * time.Second
	}

	// Queue defaults
	if config.Queue.Workers == 0 {
		config.Queue.Workers = 1
	}
	if config.Queue.BufferSize == 0 {
		config.Queue.BufferSize = 120
	}
	if config.Queue.Retry.MaxRetries == 0 {
		config.Queue.Retry.MaxRetries = 5
	}
	if config.Queue.Retry.BaseDelay == 0 {
		config.Queue.Retry.BaseDelay = 5 * time.Second
	}
	if config.Queue.Retry.MaxDelay == 0 {
		config.Queue.Retry.MaxDelay = 5 * time.Minute
	}
	if config.Queue.Circuit.FailureThreshold == 0 {
		config.Queue.Circuit.FailureThreshold = 5
	}
	if config.Queue.Circuit.Timeout == 0 {
		config.Queue.Circuit.Timeout = 60 * time.Second
	}

	// Telemetry defaults
	if config.Telemetry.Timeout == 0 {
		config.Telemetry.Timeout = 30 * time.Second
	}
	if config.Telemetry.WeatherUnderground.Interval == 0 {
		config.Telemetry.WeatherUnderground.Interval = 5 * time.Minute
	}
	if config.Telemetry.Luftdaten.Interval == 0 {
		config.Telemetry.Luftdaten.Interval = 5 * time.Minute
	}
	if config.Telemetry.OpenSenseMap.Interval == 0 {
		config.Telemetry.OpenSenseMap.Interval = 5 * time.Minute
	}
	if config.Telemetry.OpenWeather.Interval == 0 {
		config.Telemetry.OpenWeather.Interval = time.Minute
	}
	if config.Telemetry.MQTT.BaseTopic == "" {
		config.Telemetry.MQTT.BaseTopic = "sensorhub"
	}
	if config.Telemetry.MQTT.ClientID == "" {
		config.Telemetry.MQTT.ClientID = "sensorhub"
	}
	if config.Telemetry.Broker.Address == "" {
		config.Telemetry.Broker.Address = ":1883"
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Dir == "" {
		config.Logging.Dir = filepath.Join(config.Station.DataDir, "logs")
	}
	if config.Logging.MaxSizeMB == 0 {
		config.Logging.MaxSizeMB = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 3
	}
	if config.Logging.MaxAgeDays == 0 {
		config.Logging.MaxAgeDays = 28
	}

	// Timeout defaults
	if config.Timeouts.ShutdownTimeout == 0 {
		config.Timeouts.ShutdownTimeout = 10 * time.Second
	}
	if config.Timeouts.QueueShutdownTimeout == 0 {
		config.Timeouts.QueueShutdownTimeout = 30 * time.Second
	}
	if config.Timeouts.WebShutdownTimeout == 0 {
		config.Timeouts.WebShutdownTimeout = 30 * time.Second
	}
	if config.Timeouts.ProcessingTimeout == 0 {
		config.Timeouts.ProcessingTimeout = 5 * time.Second
	}
}

// Validate reports every problem found, joined.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	if c.Web.TLS.Enabled && (c.Web.TLS.CertFile == "") != (c.Web.TLS.KeyFile == "") {
		errs = append(errs, errors.New("web.tls needs both cert_file and key_file, or neither"))
	}
	if c.Auth.Username == "" {
		errs = append(errs, errors.New("auth.username is required"))
	}
	if c.SensorControl.MemoryThresholdMB < 0 {
		errs = append(errs, errors.New("sensor_control.memory_threshold_mb must not be negative"))
	}
	if c.SensorControl.StatusTimeout < 0 || c.SensorControl.DownloadTimeout < 0 {
		errs = append(errs, errors.New("sensor_control timeouts must not be negative"))
	}
	for _, a := range c.SensorControl.Addresses {
		if _, err := remote.ParseAddress(a); err != nil {
			errs = append(errs, fmt.Errorf("sensor_control.addresses: %w", err))
		}
	}
	switch c.Sensors.BME280.Type {
	case SensorHardware, SensorSimulated:
	default:
		errs = append(errs, fmt.Errorf("sensors.bme280.type must be %q or %q, got %q", SensorHardware, SensorSimulated, c.Sensors.BME280.Type))
	}
	if c.Recording.Interval < time.Second {
		errs = append(errs, errors.New("recording.interval must be at least 1s"))
	}
	if c.Recording.Trigger.CheckInterval < time.Second {
		errs = append(errs, errors.New("recording.trigger.check_interval must be at least 1s"))
	}
	for field, v := range c.Recording.Trigger.Variances {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("recording.trigger.variances.%s must be positive", field))
		}
	}
	if c.Queue.Workers < 1 || c.Queue.BufferSize < 1 {
		errs = append(errs, errors.New("queue.workers and queue.buffer_size must be positive"))
	}

	t := c.Telemetry
	if t.WeatherUnderground.Enabled && (t.WeatherUnderground.StationID == "" || t.WeatherUnderground.Password == "") {
		errs = append(errs, errors.New("telemetry.weather_underground needs station_id and password"))
	}
	if t.Luftdaten.Enabled && t.Luftdaten.SensorID == "" {
		errs = append(errs, errors.New("telemetry.luftdaten needs sensor_id"))
	}
	if t.OpenSenseMap.Enabled && (t.OpenSenseMap.BoxID == "" || len(t.OpenSenseMap.SensorIDs) == 0) {
		errs = append(errs, errors.New("telemetry.open_sense_map needs box_id and sensor_ids"))
	}
	if t.OpenWeather.Enabled && (t.OpenWeather.AppID == "" || t.OpenWeather.StationID == "") {
		errs = append(errs, errors.New("telemetry.openweather needs app_id and station_id"))
	}
	if t.MQTT.Enabled && t.MQTT.Broker == "" {
		errs = append(errs, errors.New("telemetry.mqtt needs broker"))
	}
	if t.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("telemetry.mqtt.qos %d must be 0, 1 or 2", t.MQTT.QoS))
	}

	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Masked returns a copy with every secret replaced, safe to serve.
func (c *AppConfig) Masked() *AppConfig {
	m := c.Clone()
	for _, s := range []*string{
		&m.Auth.Password,
		&m.SensorControl.Password,
		&m.Telemetry.WeatherUnderground.Password,
		&m.Telemetry.OpenWeather.AppID,
		&m.Telemetry.MQTT.Password,
		&m.Telemetry.Broker.Password,
	} {
		if *s != "" {
			*s = secretMask
		}
	}
	return m
}

// Clone deep-copies the configuration.
func (c *AppConfig) Clone() *AppConfig {
	out := *c
	out.SensorControl.Addresses = append([]string(nil), c.SensorControl.Addresses...)
	if c.Recording.Trigger.Variances != nil {
		out.Recording.Trigger.Variances = make(map[string]float64, len(c.Recording.Trigger.Variances))
		for k, v := range c.Recording.Trigger.Variances {
			out.Recording.Trigger.Variances[k] = v
		}
	}
	if c.Telemetry.OpenSenseMap.SensorIDs != nil {
		out.Telemetry.OpenSenseMap.SensorIDs = make(map[string]string, len(c.Telemetry.OpenSenseMap.SensorIDs))
		for k, v := range c.Telemetry.OpenSenseMap.SensorIDs {
			out.Telemetry.OpenSenseMap.SensorIDs[k] = v
		}
	}
	return &out
}

// GenerateExampleConfig creates an example configuration file
func GenerateExampleConfig(outputPath string) error {
	config := defaultConfig()
	config.SensorControl.Addresses = []string{"192.168.10.11", "192.168.10.12:10065"}
	config.Recording.Trigger.Variances = map[string]float64{
		"temperature_c": 0.5,
		"humidity_pct":  2,
		"pressure_hpa":  1,
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", outputPath, err)
	}

	return nil
}
