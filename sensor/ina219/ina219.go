// Package ina219 reads a UPS HAT's INA219 power monitor and derives the
// battery charge from the bus voltage.
package ina219

import (
	"context"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
	"periph.io/x/host/v3"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const (
	DefaultBus     = "/dev/i2c-1"
	DefaultAddress = 0x43
)

// Single Li-ion cell: empty at 3.0 V, full at 4.2 V.
const (
	emptyVolts = 3.0
	rangeVolts = 1.2
)

type Config struct {
	BusName string
	Address int
}

// Monitor is an INA219 on the I2C bus.
type Monitor struct {
	mu  sync.Mutex
	dev *ina219.Dev
	bus i2c.BusCloser
}

// New opens the monitor. Zero config fields take the UPS HAT defaults.
func New(cfg Config) (*Monitor, error) {
	if cfg.BusName == "" {
		cfg.BusName = DefaultBus
	}
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io drivers: %w", err)
	}
	bus, err := i2creg.Open(cfg.BusName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus '%s': %w", cfg.BusName, err)
	}

	opts := ina219.DefaultOpts
	opts.Address = cfg.Address
	dev, err := ina219.New(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize INA219 at address 0x%02X: %w", cfg.Address, err)
	}
	return &Monitor{dev: dev, bus: bus}, nil
}

func (m *Monitor) Name() string { return "ina219" }

func (m *Monitor) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil {
		return nil, sensor.ErrNoSensor
	}
	p, err := m.dev.Sense()
	if err != nil {
		return nil, fmt.Errorf("sensor reading error: %w", err)
	}
	return FromPowerMonitor(p), nil
}

// FromPowerMonitor converts a periph sample to a reading.
func FromPowerMonitor(p ina219.PowerMonitor) sensor.Reading {
	volts := float64(p.Voltage) / float64(physic.Volt)
	return sensor.Reading{
		sensor.BusVoltage: volts,
		sensor.Current:    float64(p.Current) / float64(physic.Ampere),
		sensor.Power:      float64(p.Power) / float64(physic.Watt),
		sensor.Battery:    BatteryPercent(volts),
	}
}

// BatteryPercent maps the cell voltage linearly onto 0-100, rounded to two
// decimals.
func BatteryPercent(volts float64) float64 {
	pct := math.Round(((volts-emptyVolts)/rangeVolts)*100*100) / 100
	return math.Max(0, math.Min(100, pct))
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dev = nil
	if m.bus == nil {
		return nil
	}
	err := m.bus.Close()
	m.bus = nil
	return err
}

var _ sensor.Source = (*Monitor)(nil)
