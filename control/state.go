// Package control runs Sensor Control jobs: fan-out operations across remote
// stations whose merged results are published as artifacts.
package control

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// ErrJobRunning is returned when a job of the same kind is already in flight.
var ErrJobRunning = errors.New("a job of this kind is already running")

// JobKind selects one Sensor Control operation.
type JobKind string

const (
	StatusCheck       JobKind = "status-check"
	ReportCombo       JobKind = "report-combo"
	DownloadDatabases JobKind = "download-databases"
	DownloadLogs      JobKind = "download-logs"
	DownloadBigZip    JobKind = "download-big-zip"
)

// JobKinds lists every kind in display order.
var JobKinds = []JobKind{StatusCheck, ReportCombo, DownloadDatabases, DownloadLogs, DownloadBigZip}

// ParseJobKind accepts a kind name, case-insensitively.
func ParseJobKind(s string) (JobKind, error) {
	for _, k := range JobKinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// Command is the remote command this kind fans out.
func (k JobKind) Command() string {
	switch k {
	case StatusCheck:
		return remote.CmdCheckOnlineStatus
	case DownloadDatabases:
		return remote.CmdDownloadSQLDatabase
	case DownloadLogs:
		return remote.CmdDownloadZippedLogs
	case DownloadBigZip:
		return remote.CmdDownloadEverything
	}
	return ""
}

// Label prefixes the delivered file name.
func (k JobKind) Label() string {
	switch k {
	case StatusCheck:
		return "StatusCheck"
	case ReportCombo:
		return "Reports"
	case DownloadDatabases:
		return "Multiple_Databases"
	case DownloadLogs:
		return "Multiple_Logs"
	case DownloadBigZip:
		return "TheBigZip"
	}
	return string(k)
}

// sizeQueries are the size commands summed by the budgeter for download kinds.
func (k JobKind) sizeQueries() []artifact.SizeQuery {
	switch k {
	case DownloadDatabases:
		return []artifact.SizeQuery{artifact.DatabaseSize}
	case DownloadLogs:
		return []artifact.SizeQuery{artifact.LogsSize}
	case DownloadBigZip:
		return []artifact.SizeQuery{artifact.DatabaseSize, artifact.LogsSize}
	}
	return nil
}

// IsDownload reports whether k produces a merged archive of station files.
func (k JobKind) IsDownload() bool { return k.sizeQueries() != nil }

// Phase is the lifecycle position of a job kind.
type Phase string

const (
	Idle      Phase = "idle"
	Running   Phase = "running"
	Completed Phase = "completed"
	Failed    Phase = "failed"
)

// JobState is a point-in-time snapshot of one job kind.
type JobState struct {
	Kind           JobKind           `json:"kind"`
	Phase          Phase             `json:"phase"`
	InProgress     bool              `json:"in_progress"`
	RunID          string            `json:"run_id,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ResultName     string            `json:"result_name"`
	ResultLocation artifact.Location `json:"result_location"`
	ResultSize     int64             `json:"result_size"`
	Error          string            `json:"error,omitempty"`
	Results        []remote.Result   `json:"results,omitempty"`
}

type jobSlot struct {
	phase    Phase
	runID    string
	started  time.Time
	finished time.Time
	err      string
	artifact *artifact.Artifact
	results  []remote.Result
}

// State is the process-wide Sensor Control context: the remote login, one
// slot per job kind and the last generated sub-reports. Every access goes
// through its methods.
type State struct {
	mu      sync.RWMutex
	creds   remote.Credentials
	jobs    map[JobKind]*jobSlot
	reports map[artifact.ReportKind]*artifact.Artifact
}

// NewState creates the context with every job Idle.
func NewState(creds remote.Credentials) *State {
	s := &State{
		creds:   creds,
		jobs:    make(map[JobKind]*jobSlot, len(JobKinds)),
		reports: make(map[artifact.ReportKind]*artifact.Artifact, len(artifact.ReportKinds)),
	}
	for _, k := range JobKinds {
		s.jobs[k] = &jobSlot{phase: Idle}
	}
	return s
}

// Credentials implements remote.CredentialsProvider.
func (s *State) Credentials() remote.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials replaces the login used for every subsequent remote call.
func (s *State) SetCredentials(c remote.Credentials) error {
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("username is required")
	}
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	return nil
}

// begin moves kind to Running unless it is already running. The previous
// artifact stays visible until the new run publishes or fails.
func (s *State) begin(kind JobKind, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.jobs[kind]
	if slot.phase == Running {
		return ErrJobRunning
	}
	slot.phase = Running
	slot.runID = runID
	slot.started = at
	slot.finished = time.Time{}
	slot.err = ""
	return nil
}

// complete publishes a run's artifact, returning the one it replaced.
func (s *State) complete(kind JobKind, runID string, art *artifact.Artifact, results []remote.Result, at time.Time) *artifact.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.jobs[kind]
	if slot.runID != runID {
		return nil
	}
	prev := slot.artifact
	slot.phase = Completed
	slot.finished = at
	slot.artifact = art
	slot.results = results
	return prev
}

// fail clears the result of kind so no stale artifact is served as current,
// returning the one it dropped.
func (s *State) fail(kind JobKind, runID string, err error, at time.Time) *artifact.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.jobs[kind]
	if slot.runID != runID {
		return nil
	}
	prev := slot.artifact
	slot.phase = Failed
	slot.finished = at
	slot.err = err.Error()
	slot.artifact = nil
	slot.results = nil
	return prev
}

// Job snapshots the state of kind.
func (s *State) Job(kind JobKind) JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.jobs[kind]
	if !ok {
		return JobState{Kind: kind, Phase: Idle, ResultLocation: artifact.None}
	}

	js := JobState{
		Kind:           kind,
		Phase:          slot.phase,
		InProgress:     slot.phase == Running,
		RunID:          slot.runID,
		Error:          slot.err,
		ResultLocation: artifact.None,
		Results:        slot.results,
	}
	if !slot.started.IsZero() {
		t := slot.started
		js.StartedAt = &t
	}
	if !slot.finished.IsZero() {
		t := slot.finished
		js.FinishedAt = &t
	}
	if slot.artifact != nil {
		js.ResultName = slot.artifact.Name
		js.ResultLocation = slot.artifact.Location
		js.ResultSize = slot.artifact.Size
	}
	return js
}

// Artifact returns the current artifact of kind, if any.
func (s *State) Artifact(kind JobKind) (*artifact.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.jobs[kind]
	if !ok || slot.artifact == nil {
		return nil, false
	}
	return slot.artifact, true
}

// CacheReport stores the last generated sub-report of kind k.
func (s *State) CacheReport(k artifact.ReportKind, art *artifact.Artifact) {
	s.mu.Lock()
	s.reports[k] = art
	s.mu.Unlock()
}

// Report returns the last generated sub-report of kind k.
func (s *State) Report(k artifact.ReportKind) (*artifact.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.reports[k]
	return art, ok && art != nil
}
