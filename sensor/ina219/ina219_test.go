package ina219

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/physic"
	periphina219 "periph.io/x/devices/v3/ina219"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		volts float64
		want  float64
	}{
		{3.0, 0},
		{3.6, 50},
		{4.2, 100},
		{3.9, 75},
		{2.5, 0},
		{4.4, 100},
		{3.123, 10.25},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, BatteryPercent(tt.volts), 1e-9, "volts=%v", tt.volts)
	}
}

func TestFromPowerMonitor(t *testing.T) {
	r := FromPowerMonitor(periphina219.PowerMonitor{
		Voltage: 3900 * physic.MilliVolt,
		Current: 250 * physic.MilliAmpere,
		Power:   975 * physic.MilliWatt,
	})

	assert.InDelta(t, 3.9, r[sensor.BusVoltage], 1e-9)
	assert.InDelta(t, 0.25, r[sensor.Current], 1e-9)
	assert.InDelta(t, 0.975, r[sensor.Power], 1e-9)
	assert.InDelta(t, 75.0, r[sensor.Battery], 1e-9)
}

func TestClosedMonitorIsMissing(t *testing.T) {
	m := &Monitor{}
	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, sensor.ErrNoSensor)
	assert.NoError(t, m.Close())
}
