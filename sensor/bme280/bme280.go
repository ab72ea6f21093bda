// Package bme280 reads temperature, humidity and pressure from a Bosch BME280
// on the I2C bus, or simulates one.
package bme280

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

// Config locates the sensor on the bus.
type Config struct {
	Address uint16 // 0x76 or 0x77
	BusName string // empty for the first bus
	Options *bmxx80.Opts
}

// DefaultConfig is the usual breakout board wiring.
func DefaultConfig() *Config {
	return &Config{
		Address: 0x76,
		Options: &bmxx80.DefaultOpts,
	}
}

// Sensor is a BME280 attached over I2C.
type Sensor struct {
	mu     sync.Mutex
	device *bmxx80.Dev
	bus    i2c.BusCloser
}

// NewSensor initialises the host drivers and opens the device.
func NewSensor(config *Config) (*Sensor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Options == nil {
		config.Options = &bmxx80.DefaultOpts
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io drivers: %w", err)
	}

	bus, err := i2creg.Open(config.BusName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus '%s': %w", config.BusName, err)
	}

	dev, err := bmxx80.NewI2C(bus, config.Address, config.Options)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize BME280 at address 0x%02X: %w", config.Address, err)
	}

	return &Sensor{device: dev, bus: bus}, nil
}

func (s *Sensor) Name() string { return "bme280" }

// Read senses once. A closed sensor reports sensor.ErrNoSensor.
func (s *Sensor) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil, sensor.ErrNoSensor
	}

	var env physic.Env
	if err := s.device.Sense(&env); err != nil {
		return nil, fmt.Errorf("failed to read sensor data: %w", err)
	}
	return FromEnv(env), nil
}

// FromEnv converts a periph measurement to a reading.
func FromEnv(env physic.Env) sensor.Reading {
	return sensor.Reading{
		sensor.Temperature: float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin),
		sensor.Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
		sensor.Pressure:    float64(env.Pressure) / float64(100*physic.Pascal),
	}
}

// Close halts the device and releases the bus.
func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.device != nil {
		if err := s.device.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("failed to halt device: %w", err))
		}
		s.device = nil
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close I2C bus: %w", err))
		}
		s.bus = nil
	}
	return errors.Join(errs...)
}

// SimulatedConfig bounds the simulated values.
type SimulatedConfig struct {
	MinTemp     float64
	MaxTemp     float64
	MinHumidity float64
	MaxHumidity float64
	// hPa
	MinPressure float64
	MaxPressure float64
}

func DefaultSimulatedConfig() *SimulatedConfig {
	return &SimulatedConfig{
		MinTemp:     15.0,
		MaxTemp:     35.0,
		MinHumidity: 30.0,
		MaxHumidity: 80.0,
		MinPressure: 980,
		MaxPressure: 1020,
	}
}

// SimulatedSensor produces random readings within its configured ranges, for
// stations and development machines without the hardware.
type SimulatedSensor struct {
	config *SimulatedConfig
	mu     sync.Mutex
	rand   *rand.Rand
	closed bool
}

func NewSimulatedSensor(config *SimulatedConfig) *SimulatedSensor {
	return newSimulatedSensorWithSeed(config, time.Now().UnixNano())
}

func newSimulatedSensorWithSeed(config *SimulatedConfig, seed int64) *SimulatedSensor {
	if config == nil {
		config = DefaultSimulatedConfig()
	}
	return &SimulatedSensor{
		config: config,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedSensor) Name() string { return "bme280-simulated" }

func (s *SimulatedSensor) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sensor.ErrNoSensor
	}
	between := func(lo, hi float64) float64 { return lo + s.rand.Float64()*(hi-lo) }

	return sensor.Reading{
		sensor.Temperature: between(s.config.MinTemp, s.config.MaxTemp),
		sensor.Humidity:    between(s.config.MinHumidity, s.config.MaxHumidity),
		sensor.Pressure:    between(s.config.MinPressure, s.config.MaxPressure),
	}, nil
}

func (s *SimulatedSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ sensor.Source = (*Sensor)(nil)
	_ sensor.Source = (*SimulatedSensor)(nil)
)
