package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const luftdatenURL = "https://api.sensor.community/v1/push-sensor-data/"

// X-Pin of a BME280 in the sensor.community API.
const bme280Pin = "11"

type luftdatenValue struct {
	ValueType string `json:"value_type"`
	Value     string `json:"value"`
}

type luftdatenBody struct {
	SoftwareVersion  string           `json:"software_version"`
	SensorDataValues []luftdatenValue `json:"sensordatavalues"`
}

// Luftdaten pushes BME280 values to sensor.community.
type Luftdaten struct {
	sensorID string
	version  string
	httpSink
}

func NewLuftdaten(sensorID, version string, opts ...ClientOption) (*Luftdaten, error) {
	if sensorID == "" {
		return nil, errors.New("luftdaten needs a sensor ID")
	}
	return &Luftdaten{sensorID: sensorID, version: version, httpSink: newHTTPSink(luftdatenURL, opts)}, nil
}

func (l *Luftdaten) Name() string { return "luftdaten" }

func (l *Luftdaten) body(snap sensor.Snapshot) luftdatenBody {
	b := luftdatenBody{SoftwareVersion: "sensorhub-" + l.version}
	if v, ok := snap.Value(sensor.Temperature); ok {
		b.SensorDataValues = append(b.SensorDataValues, luftdatenValue{"temperature", fmt.Sprintf("%.2f", v)})
	}
	if v, ok := snap.Value(sensor.Pressure); ok {
		// the API wants pascal
		b.SensorDataValues = append(b.SensorDataValues, luftdatenValue{"pressure", fmt.Sprintf("%.0f", v*100)})
	}
	if v, ok := snap.Value(sensor.Humidity); ok {
		b.SensorDataValues = append(b.SensorDataValues, luftdatenValue{"humidity", fmt.Sprintf("%.2f", v)})
	}
	return b
}

func (l *Luftdaten) Send(ctx context.Context, snap sensor.Snapshot) error {
	b := l.body(snap)
	if len(b.SensorDataValues) == 0 {
		return nil
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal luftdaten body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, l.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pin", bme280Pin)
	req.Header.Set("X-Sensor", "raspi-"+l.sensorID)

	_, err = l.do(ctx, req, is2xx)
	return err
}
