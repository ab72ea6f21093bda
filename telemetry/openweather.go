package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const openWeatherURL = "https://api.openweathermap.org/data/3.0"

var (
	ErrInvalidAppID     = errors.New("invalid app ID")
	ErrInvalidStationID = errors.New("invalid station ID")
)

// owMeasurement is one entry of the OpenWeather station measurements API.
// Pressure is in hPa.
type owMeasurement struct {
	StationID   string   `json:"station_id"`
	Dt          int64    `json:"dt"`
	Temperature *float64 `json:"temperature,omitempty"`
	Pressure    *int64   `json:"pressure,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// OpenWeather posts measurements to a registered OpenWeather station.
type OpenWeather struct {
	appID     string
	stationID string
	httpSink
}

func NewOpenWeather(appID, stationID string, opts ...ClientOption) (*OpenWeather, error) {
	if appID == "" {
		return nil, ErrInvalidAppID
	}
	if stationID == "" {
		return nil, ErrInvalidStationID
	}
	return &OpenWeather{appID: appID, stationID: stationID, httpSink: newHTTPSink(openWeatherURL, opts)}, nil
}

func (o *OpenWeather) Name() string { return "openweather" }

// measurement maps a snapshot, reporting false when it has nothing to send.
func (o *OpenWeather) measurement(snap sensor.Snapshot) (owMeasurement, bool) {
	m := owMeasurement{StationID: o.stationID, Dt: snap.Time.Unix()}
	if v, ok := snap.Value(sensor.Temperature); ok {
		m.Temperature = &v
	}
	if v, ok := snap.Value(sensor.Pressure); ok {
		p := int64(math.Round(v))
		m.Pressure = &p
	}
	if v, ok := snap.Value(sensor.Humidity); ok {
		m.Humidity = &v
	}
	return m, m.Temperature != nil || m.Pressure != nil || m.Humidity != nil
}

func (o *OpenWeather) Send(ctx context.Context, snap sensor.Snapshot) error {
	m, ok := o.measurement(snap)
	if !ok {
		return nil
	}
	if m.Dt <= 0 {
		return errors.New("invalid timestamp")
	}

	body, err := json.Marshal([]owMeasurement{m})
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}

	u, err := url.Parse(o.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath("measurements")
	u.RawQuery = url.Values{"appid": {o.appID}}.Encode()

	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = o.do(ctx, req, is2xx)
	return err
}
