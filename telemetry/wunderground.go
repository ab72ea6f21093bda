package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/anibaldeboni/zero-paper/sensorhub/queue"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const wundergroundURL = "https://weatherstation.wunderground.com/weatherstation/updateweatherstation.php"

// inches of mercury per hectopascal
const inHgPerHPa = 0.02952998

// WeatherUnderground uploads with the personal weather station protocol.
type WeatherUnderground struct {
	stationID string
	password  string
	httpSink
}

func NewWeatherUnderground(stationID, password string, opts ...ClientOption) (*WeatherUnderground, error) {
	if stationID == "" || password == "" {
		return nil, errors.New("weather underground needs a station ID and key")
	}
	return &WeatherUnderground{
		stationID: stationID,
		password:  password,
		httpSink:  newHTTPSink(wundergroundURL, opts),
	}, nil
}

func (w *WeatherUnderground) Name() string { return "weather_underground" }

// Query builds the upload parameters. It returns false when snap has
// nothing the service accepts.
func (w *WeatherUnderground) Query(snap sensor.Snapshot) (url.Values, bool) {
	q := url.Values{
		"ID":       {w.stationID},
		"PASSWORD": {w.password},
		"dateutc":  {"now"},
		"action":   {"updateraw"},
	}
	n := 0
	if c, ok := snap.Value(sensor.Temperature); ok {
		q.Set("tempf", fmt.Sprintf("%.1f", c*9/5+32))
		n++
	}
	if h, ok := snap.Value(sensor.Humidity); ok {
		q.Set("humidity", fmt.Sprintf("%.0f", h))
		n++
	}
	if p, ok := snap.Value(sensor.Pressure); ok {
		q.Set("baromin", fmt.Sprintf("%.2f", p*inHgPerHPa))
		n++
	}
	return q, n > 0
}

func (w *WeatherUnderground) Send(ctx context.Context, snap sensor.Snapshot) error {
	q, ok := w.Query(snap)
	if !ok {
		return nil
	}
	req, err := http.NewRequest(http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	body, err := w.do(ctx, req, is2xx)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(string(body)), "success") {
		return queue.NewRetryableError(fmt.Errorf("weather underground rejected upload: %s", strings.TrimSpace(string(body))), false)
	}
	return nil
}
