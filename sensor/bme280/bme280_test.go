package bme280

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint16(0x76), cfg.Address)
	assert.Empty(t, cfg.BusName)
	assert.NotNil(t, cfg.Options)
}

func TestFromEnv(t *testing.T) {
	env := physic.Env{
		Temperature: physic.ZeroCelsius + 25*physic.Celsius,
		Humidity:    60 * physic.PercentRH,
		Pressure:    101325 * physic.Pascal,
	}

	r := FromEnv(env)
	assert.InDelta(t, 25.0, r[sensor.Temperature], 1e-6)
	assert.InDelta(t, 60.0, r[sensor.Humidity], 1e-6)
	assert.InDelta(t, 1013.25, r[sensor.Pressure], 1e-6)
}

func TestSimulatedSensorStaysInRange(t *testing.T) {
	cfg := DefaultSimulatedConfig()
	s := newSimulatedSensorWithSeed(cfg, 42)

	for i := 0; i < 100; i++ {
		r, err := s.Read(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r[sensor.Temperature], cfg.MinTemp)
		assert.LessOrEqual(t, r[sensor.Temperature], cfg.MaxTemp)
		assert.GreaterOrEqual(t, r[sensor.Humidity], cfg.MinHumidity)
		assert.LessOrEqual(t, r[sensor.Humidity], cfg.MaxHumidity)
		assert.GreaterOrEqual(t, r[sensor.Pressure], cfg.MinPressure)
		assert.LessOrEqual(t, r[sensor.Pressure], cfg.MaxPressure)
	}
}

func TestSimulatedSensorIsDeterministicPerSeed(t *testing.T) {
	a := newSimulatedSensorWithSeed(nil, 7)
	b := newSimulatedSensorWithSeed(nil, 7)

	ra, err := a.Read(context.Background())
	require.NoError(t, err)
	rb, err := b.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestClosedSimulatedSensorIsMissing(t *testing.T) {
	s := NewSimulatedSensor(nil)
	require.NoError(t, s.Close())

	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, sensor.ErrNoSensor)
}

func TestClosedSensorIsMissing(t *testing.T) {
	s := &Sensor{}
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, sensor.ErrNoSensor)
	assert.NoError(t, s.Close())
}
