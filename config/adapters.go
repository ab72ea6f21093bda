package config

import (
	"os"
	"path/filepath"

	"periph.io/x/devices/v3/bmxx80"

	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/queue"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor/bme280"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor/ina219"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor/system"
	"github.com/anibaldeboni/zero-paper/sensorhub/telemetry"
	"github.com/anibaldeboni/zero-paper/sensorhub/web"
)

// Hostname is the configured station name, or the OS hostname.
func (c *AppConfig) Hostname() string {
	if c.Station.Name != "" {
		return c.Station.Name
	}
	h, err := os.Hostname()
	if err != nil {
		return "sensorhub"
	}
	return h
}

// WebConfig converts config to web.Config
func (c *AppConfig) WebConfig() *web.Config {
	return &web.Config{
		Port:            c.Web.Port,
		ReadTimeout:     c.Web.ReadTimeout,
		WriteTimeout:    c.Web.WriteTimeout,
		IdleTimeout:     c.Web.IdleTimeout,
		ShutdownTimeout: c.Timeouts.WebShutdownTimeout,
		TLS:             c.Web.TLS.Enabled,
		CertFile:        c.Web.TLS.CertFile,
		KeyFile:         c.Web.TLS.KeyFile,
		CertDir:         filepath.Join(c.Station.DataDir, "tls"),
		Username:        c.Auth.Username,
		Password:        c.Auth.Password,
	}
}

// QueueConfig converts config to queue.QueueConfig
func (c *AppConfig) QueueConfig() queue.QueueConfig {
	return queue.QueueConfig{
		Workers:           c.Queue.Workers,
		BufferSize:        c.Queue.BufferSize,
		ShutdownTimeout:   c.Timeouts.QueueShutdownTimeout,
		ProcessingTimeout: c.Timeouts.ProcessingTimeout,
		RetryPolicy: queue.RetryPolicy{
			MaxRetries: c.Queue.Retry.MaxRetries,
			BaseDelay:  c.Queue.Retry.BaseDelay,
			MaxDelay:   c.Queue.Retry.MaxDelay,
		},
		CircuitBreakerConfig: queue.CircuitBreakerConfig{
			FailureThreshold: c.Queue.Circuit.FailureThreshold,
			Timeout:          c.Queue.Circuit.Timeout,
		},
	}
}

// LogConfig converts config to observability.LogConfig
func (c *AppConfig) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:      c.Logging.Level,
		Dir:        c.Logging.Dir,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Console:    c.Logging.Console,
	}
}

// ControlSettings converts config to control.Settings
func (c *AppConfig) ControlSettings() control.Settings {
	return control.Settings{
		DataDir:         c.Station.DataDir,
		StatusTimeout:   c.SensorControl.StatusTimeout,
		DownloadTimeout: c.SensorControl.DownloadTimeout,
		MemoryThreshold: c.SensorControl.MemoryThresholdMB << 20,
		Hostname:        c.Hostname(),
	}
}

// RemoteCredentials is the login presented to other stations.
func (c *AppConfig) RemoteCredentials() remote.Credentials {
	return remote.Credentials{
		Username: c.SensorControl.Username,
		Password: c.SensorControl.Password,
	}
}

// BME280Config converts config to bme280.Config
func (c *AppConfig) BME280Config() *bme280.Config {
	return &bme280.Config{
		Address: c.Sensors.BME280.I2CAddress,
		BusName: c.Sensors.BME280.I2CBus,
		Options: &bmxx80.DefaultOpts,
	}
}

// SimulatedConfig converts config to bme280 simulation config
func (c *AppConfig) SimulatedConfig() *bme280.SimulatedConfig {
	sim := c.Sensors.BME280.Simulation
	return &bme280.SimulatedConfig{
		MinTemp:     sim.MinTemperature,
		MaxTemp:     sim.MaxTemperature,
		MinHumidity: sim.MinHumidity,
		MaxHumidity: sim.MaxHumidity,
		MinPressure: sim.MinPressure,
		MaxPressure: sim.MaxPressure,
	}
}

// INA219Config converts config to ina219.Config
func (c *AppConfig) INA219Config() ina219.Config {
	return ina219.Config{
		BusName: c.Sensors.INA219.I2CBus,
		Address: c.Sensors.INA219.I2CAddress,
	}
}

// SystemSource builds the kernel file source.
func (c *AppConfig) SystemSource() *system.Source {
	return &system.Source{
		ThermalPath: c.Sensors.System.ThermalPath,
		UptimePath:  c.Sensors.System.UptimePath,
	}
}

// MQTTConfig converts config to telemetry.MQTTConfig
func (c *AppConfig) MQTTConfig() telemetry.MQTTConfig {
	m := c.Telemetry.MQTT
	return telemetry.MQTTConfig{
		Broker:    m.Broker,
		ClientID:  m.ClientID,
		Username:  m.Username,
		Password:  m.Password,
		BaseTopic: m.BaseTopic,
		QoS:       m.QoS,
		Retained:  m.Retained,
		Timeout:   c.Telemetry.Timeout,
	}
}

// BrokerConfig converts config to telemetry.BrokerConfig
func (c *AppConfig) BrokerConfig() telemetry.BrokerConfig {
	b := c.Telemetry.Broker
	return telemetry.BrokerConfig{
		Address:  b.Address,
		Username: b.Username,
		Password: b.Password,
	}
}
