package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const openSenseMapURL = "https://api.opensensemap.org"

// OpenSenseMap posts to a senseBox. SensorIDs maps reading fields to the
// box's sensor IDs; unmapped fields are not sent.
type OpenSenseMap struct {
	boxID     string
	sensorIDs map[string]string
	httpSink
}

func NewOpenSenseMap(boxID string, sensorIDs map[string]string, opts ...ClientOption) (*OpenSenseMap, error) {
	if boxID == "" {
		return nil, errors.New("open sense map needs a senseBox ID")
	}
	if len(sensorIDs) == 0 {
		return nil, errors.New("open sense map needs at least one sensor ID")
	}
	return &OpenSenseMap{boxID: boxID, sensorIDs: sensorIDs, httpSink: newHTTPSink(openSenseMapURL, opts)}, nil
}

func (o *OpenSenseMap) Name() string { return "open_sense_map" }

func (o *OpenSenseMap) body(snap sensor.Snapshot) map[string]string {
	out := make(map[string]string, len(o.sensorIDs))
	for field, id := range o.sensorIDs {
		if id == "" {
			continue
		}
		if v, ok := snap.Value(field); ok {
			out[id] = formatValue(v)
		}
	}
	return out
}

func (o *OpenSenseMap) Send(ctx context.Context, snap sensor.Snapshot) error {
	b := o.body(snap)
	if len(b) == 0 {
		return nil
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal open sense map body: %w", err)
	}

	endpoint := o.baseURL + "/boxes/" + url.PathEscape(o.boxID) + "/data"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = o.do(ctx, req, func(code int) bool { return code == http.StatusCreated })
	return err
}
