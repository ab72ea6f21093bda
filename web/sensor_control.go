package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

const maxControlBody = 1 << 20

func (s *Server) controlRoutes(r chi.Router) {
	r.Get("/SensorControlManage", s.handleManage)

	r.Route("/SensorControl", func(r chi.Router) {
		r.Post("/Jobs/{kind}", s.handleLaunchJob)
		r.Get("/Jobs/{kind}", s.handleJobState)
		r.Get("/Jobs/{kind}/Artifact", s.handleJobArtifact)
		r.Post("/Reports/{report}", s.handleGenerateReport)
		r.Get("/Reports/{report}", s.handleCachedReport)
		r.Post("/Status", s.handleCheckStatus)
		r.Post("/Downloads", s.handlePlanDownloads)
		r.Post("/Command", s.handlePushCommand)
		r.Put("/Credentials", s.handleSetCredentials)
	})
}

type reportLink struct {
	Kind   artifact.ReportKind
	Title  string
	Cached bool
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Hostname  string
		Jobs      []control.JobState
		Reports   []reportLink
		Addresses []string
	}{
		Hostname:  s.deps.Station.Hostname,
		Jobs:      s.control.Jobs(),
		Addresses: s.control.Addresses(),
	}
	for _, k := range artifact.ReportKinds {
		_, cached := s.control.CachedReport(k)
		data.Reports = append(data.Reports, reportLink{Kind: k, Title: k.Title(), Cached: cached})
	}

	if err := s.renderer.Render(w, "manage.html", data); err != nil {
		s.logger.Error("failed to render Sensor Control page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) jobKind(w http.ResponseWriter, r *http.Request) (control.JobKind, bool) {
	kind, err := control.ParseJobKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return kind, true
}

func (s *Server) handleLaunchJob(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.jobKind(w, r)
	if !ok {
		return
	}
	req, err := decodeJobRequest(w, r)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := s.control.Launch(kind, req)
	switch {
	case errors.Is(err, control.ErrJobRunning):
		s.sendJSONResponse(w, state, http.StatusConflict)
	case err != nil:
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		s.sendJSONResponse(w, state, http.StatusAccepted)
	}
}

func (s *Server) handleJobState(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.jobKind(w, r)
	if !ok {
		return
	}
	s.sendJSONResponse(w, s.control.Job(kind), http.StatusOK)
}

func (s *Server) handleJobArtifact(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.jobKind(w, r)
	if !ok {
		return
	}
	art, ok := s.control.Artifact(kind)
	if !ok {
		s.sendErrorResponse(w, "No result available", http.StatusNotFound)
		return
	}
	s.serveArtifact(w, r, art)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, art *artifact.Artifact) {
	rc, err := art.Open()
	if err != nil {
		s.logger.Error("failed to open artifact", zap.String("name", art.Name), zap.Error(err))
		s.sendErrorResponse(w, "Result no longer available", http.StatusGone)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", art.ContentType)
	if !strings.HasPrefix(art.ContentType, "text/html") {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	}
	http.ServeContent(w, r, art.Name, art.CreatedAt, rc)
}

func (s *Server) reportKind(w http.ResponseWriter, r *http.Request) (artifact.ReportKind, bool) {
	k, err := artifact.ParseReportKind(chi.URLParam(r, "report"))
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return k, true
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	k, ok := s.reportKind(w, r)
	if !ok {
		return
	}
	req, err := decodeJobRequest(w, r)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	art, err := s.control.GenerateReport(r.Context(), k, req.Addresses)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serveArtifact(w, r, art)
}

func (s *Server) handleCachedReport(w http.ResponseWriter, r *http.Request) {
	k, ok := s.reportKind(w, r)
	if !ok {
		return
	}
	art, ok := s.control.CachedReport(k)
	if !ok {
		s.sendErrorResponse(w, "Report not generated yet", http.StatusNotFound)
		return
	}
	s.serveArtifact(w, r, art)
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJobRequest(w, r)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := s.control.CheckStatus(r.Context(), req.Addresses)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sendJSONResponse(w, results, http.StatusOK)
}

type planRequest struct {
	Kind      control.JobKind `json:"kind"`
	Addresses []string        `json:"addresses"`
}

func (s *Server) handlePlanDownloads(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := control.ParseJobKind(string(req.Kind))
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := s.control.PlanDownloads(r.Context(), kind, req.Addresses)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sendJSONResponse(w, plan, http.StatusOK)
}

type commandRequest struct {
	Command   string            `json:"command"`
	Form      map[string]string `json:"form"`
	Addresses []string          `json:"addresses"`
}

func (s *Server) handlePushCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	form := url.Values{}
	for k, v := range req.Form {
		form.Set(k, v)
	}
	results, err := s.control.PushCommand(r.Context(), req.Command, form, req.Addresses)
	if err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("command pushed to stations", zap.String("command", req.Command), zap.Int("stations", len(results)))
	s.sendJSONResponse(w, results, http.StatusOK)
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var creds remote.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.control.State().SetCredentials(creds); err != nil {
		s.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("remote credentials updated", zap.String("username", creds.Username))
	w.WriteHeader(http.StatusNoContent)
}

// decodeJobRequest reads a control.Request from JSON or from an HTML form.
// Form addresses may be separated by newlines, commas or spaces.
func decodeJobRequest(w http.ResponseWriter, r *http.Request) (control.Request, error) {
	var req control.Request
	if r.ContentLength == 0 && r.Header.Get("Content-Type") == "" {
		return req, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		return req, decodeJSON(w, r, &req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxControlBody)
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}
	req.Addresses = strings.FieldsFunc(r.PostForm.Get("addresses"), func(c rune) bool {
		return c == '\n' || c == '\r' || c == ',' || c == ' '
	})
	req.Reports = control.ReportSelection{
		System:         formBool(r.PostForm, "report_system"),
		Configuration:  formBool(r.PostForm, "report_configuration"),
		SensorReadings: formBool(r.PostForm, "report_sensor_readings"),
		Latency:        formBool(r.PostForm, "report_latency"),
	}
	req.Zipped = formBool(r.PostForm, "zipped")
	return req, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func formBool(form url.Values, key string) bool {
	switch strings.ToLower(form.Get(key)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
