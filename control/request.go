package control

import (
	"errors"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// ErrNoReports is returned for a combo report request with nothing selected.
var ErrNoReports = errors.New("select at least one report")

// ReportSelection picks the sub-reports of a combo report.
type ReportSelection struct {
	System         bool `json:"system"`
	Configuration  bool `json:"configuration"`
	SensorReadings bool `json:"sensor_readings"`
	Latency        bool `json:"latency"`
}

// AllReports selects every sub-report.
func AllReports() ReportSelection {
	return ReportSelection{System: true, Configuration: true, SensorReadings: true, Latency: true}
}

// Kinds returns the selected sub-reports in combo order.
func (s ReportSelection) Kinds() []artifact.ReportKind {
	var kinds []artifact.ReportKind
	if s.System {
		kinds = append(kinds, artifact.ReportSystem)
	}
	if s.Configuration {
		kinds = append(kinds, artifact.ReportConfiguration)
	}
	if s.SensorReadings {
		kinds = append(kinds, artifact.ReportReadings)
	}
	if s.Latency {
		kinds = append(kinds, artifact.ReportLatency)
	}
	return kinds
}

// Request is an operator's job launch.
type Request struct {
	Addresses []string        `json:"addresses"`
	Reports   ReportSelection `json:"reports"`
	// Zipped delivers a combo report inside a zip archive.
	Zipped bool `json:"zipped"`
}

// Validate parses the addresses and checks kind-specific options.
func (r Request) Validate(kind JobKind) ([]remote.Address, error) {
	addrs, err := remote.ParseAddresses(r.Addresses)
	if err != nil {
		return nil, err
	}
	if kind == ReportCombo && len(r.Reports.Kinds()) == 0 {
		return nil, ErrNoReports
	}
	return addrs, nil
}
