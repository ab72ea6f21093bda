// Package system reads the board's own CPU temperature and uptime.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const (
	DefaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"
	DefaultUptimePath  = "/proc/uptime"
)

// Source reads kernel-exposed files. Either path may be missing.
type Source struct {
	ThermalPath string
	UptimePath  string
}

func New() *Source {
	return &Source{ThermalPath: DefaultThermalPath, UptimePath: DefaultUptimePath}
}

func (s *Source) Name() string { return "system" }

// Read returns sensor.ErrNoSensor when neither file exists.
func (s *Source) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := sensor.Reading{}

	if milli, err := readFirstField(s.ThermalPath); err == nil {
		r[sensor.CPUTemperature] = milli / 1000
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read CPU temperature: %w", err)
	}

	if secs, err := readFirstField(s.UptimePath); err == nil {
		r[sensor.Uptime] = secs / 60
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read uptime: %w", err)
	}

	if len(r) == 0 {
		return nil, sensor.ErrNoSensor
	}
	return r, nil
}

func readFirstField(path string) (float64, error) {
	if path == "" {
		return 0, os.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return strconv.ParseFloat(fields[0], 64)
}

var _ sensor.Source = (*Source)(nil)
