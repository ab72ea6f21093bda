package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const defaultIntervalRows = 10

// stationRoutes mounts the commands other stations call on this one.
func (s *Server) stationRoutes(r chi.Router) {
	r.Get("/"+remote.CmdCheckOnlineStatus, s.handleOnline)
	r.Get("/"+remote.CmdTestLogin, s.handleOnline)
	r.Get("/"+remote.CmdGetHostName, s.handleHostName)
	r.Get("/"+remote.CmdGetSystemData, s.handleSystemData)
	r.Get("/"+remote.CmdGetConfigurationReport, s.handleConfigurationReport)
	r.Get("/"+remote.CmdGetSensorReadings, s.handleSensorReadings)
	r.Get("/"+remote.CmdGetSensorsLatency, s.handleSensorsLatency)
	r.Get("/"+remote.CmdGetIntervalReadings, s.handleIntervalReadings)

	r.Get("/"+remote.CmdGetSQLDBSize, s.handleDatabaseSize)
	r.Get("/"+remote.CmdDownloadSQLDatabase, s.handleDownloadDatabase)
	r.Get("/"+remote.CmdGetZippedLogsSize, s.handleLogsSize)
	r.Get("/"+remote.CmdDownloadZippedLogs, s.handleDownloadLogs)
	r.Get("/"+remote.CmdDownloadEverything, s.handleDownloadEverything)

	r.Post("/"+remote.CmdSetPrimaryConfiguration, s.handleSetPrimaryConfiguration)
	r.Post("/"+remote.CmdRestartServices, s.handleRestartServices)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.sendText(w, remote.OnlineReply, http.StatusOK)
}

func (s *Server) handleHostName(w http.ResponseWriter, r *http.Request) {
	s.sendText(w, s.deps.Station.Hostname, http.StatusOK)
}

func (s *Server) handleSystemData(w http.ResponseWriter, r *http.Request) {
	info := s.deps.Station
	data := SystemData{
		Hostname:      info.Hostname,
		Version:       info.Version,
		StartTime:     info.StartTime,
		UptimeMinutes: time.Since(info.StartTime).Minutes(),
	}

	if snap, ok := s.deps.Sensors.Latest(); ok {
		if v, ok := snap.Value(sensor.Uptime); ok {
			data.UptimeMinutes = v
		}
		if v, ok := snap.Value(sensor.CPUTemperature); ok {
			data.CPUTemperature = &v
		}
	}

	if s.deps.Store != nil {
		if size, err := s.deps.Store.SizeBytes(); err == nil {
			data.DatabaseSizeMB = bytesToMB(size)
		}
		if n, err := s.deps.Store.Count(r.Context()); err == nil {
			data.ReadingsCount = n
		}
	}

	s.sendJSONResponse(w, data, http.StatusOK)
}

func (s *Server) handleConfigurationReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		s.sendErrorResponse(w, "Configuration not available", http.StatusServiceUnavailable)
		return
	}
	s.sendJSONResponse(w, s.deps.Config.Report(), http.StatusOK)
}

func (s *Server) handleSensorReadings(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Sensors.Poll(r.Context())
	out := make(map[string]any, len(snap.Values)+1)
	for k, v := range snap.Values {
		out[k] = v
	}
	out["taken_at"] = snap.Time.UTC().Format(time.RFC3339)
	s.sendJSONResponse(w, out, http.StatusOK)
}

func (s *Server) handleSensorsLatency(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, s.deps.Sensors.Latency(), http.StatusOK)
}

func (s *Server) handleIntervalReadings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.sendErrorResponse(w, "Recording disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultIntervalRows
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.sendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.deps.Store.IntervalRows(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read interval rows", zap.Error(err))
		s.sendErrorResponse(w, "Failed to read interval readings", http.StatusInternalServerError)
		return
	}
	s.sendJSONResponse(w, rows, http.StatusOK)
}

func (s *Server) handleDatabaseSize(w http.ResponseWriter, r *http.Request) {
	var size int64
	if s.deps.Store != nil {
		var err error
		if size, err = s.deps.Store.SizeBytes(); err != nil {
			s.logger.Error("failed to stat database", zap.Error(err))
			s.sendErrorResponse(w, "Failed to read database size", http.StatusInternalServerError)
			return
		}
	}
	s.sendText(w, strconv.FormatFloat(bytesToMB(size), 'f', 3, 64), http.StatusOK)
}

func (s *Server) handleDownloadDatabase(w http.ResponseWriter, r *http.Request) {
	s.serveZip(w, r, remote.CmdDownloadSQLDatabase, func(ctx context.Context, tmp string) ([]artifact.Entry, error) {
		e, err := s.databaseEntry(ctx, tmp)
		if err != nil {
			return nil, err
		}
		return []artifact.Entry{e}, nil
	})
}

func (s *Server) handleLogsSize(w http.ResponseWriter, r *http.Request) {
	entries, err := s.logEntries()
	if err != nil {
		s.logger.Error("failed to list logs", zap.Error(err))
		s.sendErrorResponse(w, "Failed to read logs", http.StatusInternalServerError)
		return
	}

	var n countingWriter
	if len(entries) > 0 {
		if err := artifact.WriteZip(&n, entries); err != nil {
			s.logger.Error("failed to size log archive", zap.Error(err))
			s.sendErrorResponse(w, "Failed to read logs", http.StatusInternalServerError)
			return
		}
	}
	s.sendText(w, strconv.FormatFloat(float64(n)/1024, 'f', 3, 64), http.StatusOK)
}

func (s *Server) handleDownloadLogs(w http.ResponseWriter, r *http.Request) {
	s.serveZip(w, r, remote.CmdDownloadZippedLogs, func(context.Context, string) ([]artifact.Entry, error) {
		return s.logEntries()
	})
}

func (s *Server) handleDownloadEverything(w http.ResponseWriter, r *http.Request) {
	s.serveZip(w, r, remote.CmdDownloadEverything, func(ctx context.Context, tmp string) ([]artifact.Entry, error) {
		var entries []artifact.Entry
		if s.deps.Store != nil {
			e, err := s.databaseEntry(ctx, tmp)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}

		logs, err := s.logEntries()
		if err != nil {
			return nil, err
		}
		for _, e := range logs {
			e.Name = "logs/" + e.Name
			entries = append(entries, e)
		}

		if s.deps.Config != nil && s.deps.Config.Path() != "" {
			if _, err := os.Stat(s.deps.Config.Path()); err == nil {
				entries = append(entries, artifact.Entry{Name: filepath.Base(s.deps.Config.Path()), Path: s.deps.Config.Path()})
			}
		}
		return entries, nil
	})
}

// serveZip collects entries into a scratch directory and streams them as one
// zip named after the command and this station.
func (s *Server) serveZip(w http.ResponseWriter, r *http.Request, command string, collect func(ctx context.Context, tmp string) ([]artifact.Entry, error)) {
	tmp, err := os.MkdirTemp(s.scratchDir(), "export-*")
	if err != nil {
		s.logger.Error("failed to create export directory", zap.Error(err))
		s.sendErrorResponse(w, "Failed to prepare download", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(tmp)

	entries, err := collect(r.Context(), tmp)
	if err != nil {
		s.logger.Error("failed to collect download", zap.String("command", command), zap.Error(err))
		s.sendErrorResponse(w, "Failed to prepare download", http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		s.sendErrorResponse(w, "Nothing to download", http.StatusNotFound)
		return
	}

	name := command + "_" + s.deps.Station.Hostname + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := artifact.WriteZip(w, artifact.UniqueEntries(entries)); err != nil {
		// headers are gone, the client sees a truncated archive
		s.logger.Error("failed to stream download", zap.String("command", command), zap.Error(err))
	}
}

func (s *Server) databaseEntry(ctx context.Context, tmp string) (artifact.Entry, error) {
	if s.deps.Store == nil {
		return artifact.Entry{}, errors.New("recording is disabled")
	}
	dst := filepath.Join(tmp, "sensor_readings.sqlite")
	if err := s.deps.Store.Backup(ctx, dst); err != nil {
		return artifact.Entry{}, err
	}
	return artifact.Entry{Name: filepath.Base(dst), Path: dst}, nil
}

// logEntries lists the regular files of the log directory in name order.
func (s *Server) logEntries() ([]artifact.Entry, error) {
	dir := s.deps.Station.LogDir
	if dir == "" {
		return nil, nil
	}
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory %s: %w", dir, err)
	}

	var entries []artifact.Entry
	for _, f := range files {
		if !f.Type().IsRegular() {
			continue
		}
		entries = append(entries, artifact.Entry{Name: f.Name(), Path: filepath.Join(dir, f.Name())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Server) handleSetPrimaryConfiguration(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		s.sendErrorResponse(w, "Configuration not available", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, "Invalid form", http.StatusBadRequest)
		return
	}

	settings, err := parsePrimarySettings(r.PostForm)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	dryRun := r.PostForm.Get("test_run") != ""
	if err := s.deps.Config.ApplyPrimary(settings, dryRun); err != nil {
		s.logger.Warn("primary configuration rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !dryRun {
		s.logger.Info("primary configuration set", zap.String("remote", r.RemoteAddr))
		s.restart()
	}
	s.sendText(w, remote.OnlineReply, http.StatusOK)
}

func parsePrimarySettings(form map[string][]string) (PrimarySettings, error) {
	get := func(k string) (string, bool) {
		v, ok := form[k]
		if !ok || len(v) == 0 {
			return "", false
		}
		return strings.TrimSpace(v[0]), true
	}

	var p PrimarySettings
	if v, ok := get("station_name"); ok {
		p.StationName = &v
	}
	if v, ok := get("recording_interval"); ok {
		d, err := parseInterval(v)
		if err != nil {
			return p, fmt.Errorf("invalid recording_interval %q", v)
		}
		p.RecordingInterval = &d
	}
	if v, ok := get("trigger_enabled"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid trigger_enabled %q", v)
		}
		p.TriggerEnabled = &b
	}
	if v, ok := get("memory_threshold_mb"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, fmt.Errorf("invalid memory_threshold_mb %q", v)
		}
		p.MemoryThresholdMB = &n
	}
	return p, nil
}

// parseInterval accepts a Go duration or a plain number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func (s *Server) handleRestartServices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restart == nil {
		s.sendErrorResponse(w, "Restart not supported", http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("restart requested", zap.String("remote", r.RemoteAddr))
	s.restart()
	s.sendText(w, remote.OnlineReply, http.StatusOK)
}

// restart runs after the response is written so the caller gets its reply.
func (s *Server) restart() {
	if s.deps.Restart == nil {
		return
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.deps.Restart()
	}()
}

func (s *Server) scratchDir() string {
	if s.deps.Station.DataDir == "" {
		return os.TempDir()
	}
	if err := os.MkdirAll(s.deps.Station.DataDir, 0o755); err != nil {
		return os.TempDir()
	}
	return s.deps.Station.DataDir
}

func bytesToMB(n int64) float64 {
	return float64(n) / (1 << 20)
}

type countingWriter int64

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}
