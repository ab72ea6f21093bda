package web

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type readingRow struct {
	Field string
	Value string
}

// handleRoot handles GET / - returns the station page
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		Hostname  string
		Version   string
		StartTime string
		TakenAt   string
		Readings  []readingRow
		Routes    map[string]string
	}{
		Hostname:  s.deps.Station.Hostname,
		Version:   s.deps.Station.Version,
		StartTime: s.deps.Station.StartTime.Format("2006-01-02 15:04:05"),
		Routes:    s.GetRoutes(),
	}
	if snap, ok := s.deps.Sensors.Latest(); ok {
		data.TakenAt = snap.Time.Format("2006-01-02 15:04:05")
		for _, f := range snap.Fields() {
			v, _ := snap.Value(f)
			data.Readings = append(data.Readings, readingRow{Field: f, Value: strconv.FormatFloat(v, 'f', 2, 64)})
		}
	}

	if err := s.renderer.Render(w, "index.html", data); err != nil {
		s.logger.Error("failed to render station page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHealth handles GET /health - returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sensors := "no readings"
	if _, ok := s.deps.Sensors.Latest(); ok {
		sensors = "reading"
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"hostname":  s.deps.Station.Hostname,
		"version":   s.deps.Station.Version,
		"uptime":    time.Since(s.deps.Station.StartTime).Round(time.Second).String(),
		"sensors":   sensors,
		"sources":   s.deps.Sensors.Sources(),
		"recording": s.deps.Store != nil,
	}

	s.sendJSONResponse(w, health, http.StatusOK)
}

// handleMeasurements handles GET /measurements - returns the latest snapshot,
// polling the sensors when nothing has been read yet
func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Sensors.Latest()
	if !ok {
		snap = s.deps.Sensors.Poll(r.Context())
	}
	if snap.IsZero() {
		s.sendErrorResponse(w, "No sensor data available", http.StatusServiceUnavailable)
		return
	}

	s.sendJSONResponse(w, MeasurementResponse{
		Timestamp: snap.Time,
		Values:    snap.Values,
		Sources:   s.deps.Sensors.Sources(),
	}, http.StatusOK)
}

// handleTelemetry handles GET /telemetry - returns per-sink delivery status
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telemetry == nil {
		s.sendErrorResponse(w, "Telemetry not available", http.StatusServiceUnavailable)
		return
	}

	s.sendJSONResponse(w, map[string]any{
		"sinks":     s.deps.Telemetry.Stats(),
		"timestamp": time.Now(),
	}, http.StatusOK)
}
