// Package sensor defines the local measurement sources of a station and the
// poller that reads them together.
package sensor

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNoSensor is returned by a source whose hardware is not installed.
var ErrNoSensor = errors.New("sensor not installed")

// Field names shared by sources, the store and the telemetry sinks.
const (
	Temperature    = "temperature_c"
	Humidity       = "humidity_pct"
	Pressure       = "pressure_hpa"
	CPUTemperature = "cpu_temperature_c"
	Uptime         = "uptime_minutes"
	BusVoltage     = "bus_voltage_v"
	Current        = "current_a"
	Power          = "power_w"
	Battery        = "battery_pct"
)

// Reading is one source's values keyed by field name.
type Reading map[string]float64

// Source is a local sensor.
type Source interface {
	Name() string
	Read(ctx context.Context) (Reading, error)
}

// Snapshot merges the readings of every source taken in one poll.
type Snapshot struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Value returns one field of the snapshot.
func (s Snapshot) Value(field string) (float64, bool) {
	v, ok := s.Values[field]
	return v, ok
}

// Fields lists the snapshot's field names in order.
func (s Snapshot) Fields() []string {
	out := make([]string, 0, len(s.Values))
	for k := range s.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsZero reports whether the snapshot holds no values.
func (s Snapshot) IsZero() bool { return len(s.Values) == 0 }
