package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// Settings are the orchestrator's tunables, normally taken from config.
type Settings struct {
	// DataDir holds on-disk artifacts and download spools.
	DataDir         string
	StatusTimeout   time.Duration
	DownloadTimeout time.Duration
	// MemoryThreshold in bytes; larger downloads are assembled on disk.
	MemoryThreshold int64
	// Hostname of this station, used in artifact names.
	Hostname string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the Sensor Control logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithAddressBook supplies the configured station list used when a request
// carries no addresses.
func WithAddressBook(book func() []string) Option {
	return func(o *Orchestrator) {
		o.addressBook = book
	}
}

// Orchestrator launches Sensor Control jobs in the background and publishes
// their outcome in State. At most one job per kind runs at a time; different
// kinds run concurrently.
type Orchestrator struct {
	ctx         context.Context
	state       *State
	caller      remote.Caller
	settings    Settings
	budgeter    artifact.Budgeter
	assembler   artifact.Assembler
	logger      *zap.Logger
	now         func() time.Time
	addressBook func() []string
	wg          sync.WaitGroup
}

// New creates an orchestrator. Jobs run under ctx, so cancelling it bounds
// every in-flight remote call.
func New(ctx context.Context, state *State, caller remote.Caller, settings Settings, opts ...Option) *Orchestrator {
	if settings.StatusTimeout <= 0 {
		settings.StatusTimeout = remote.DefaultTimeout
	}
	if settings.DownloadTimeout <= 0 {
		settings.DownloadTimeout = 5 * time.Minute
	}
	if settings.Hostname == "" {
		settings.Hostname, _ = os.Hostname()
	}

	o := &Orchestrator{
		ctx:      ctx,
		state:    state,
		caller:   caller,
		settings: settings,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.budgeter = artifact.Budgeter{
		Threshold: settings.MemoryThreshold,
		Caller:    caller,
		Timeout:   settings.StatusTimeout,
		Logger:    o.logger,
	}
	o.assembler = artifact.Assembler{Now: o.now}
	return o
}

// State exposes the shared context.
func (o *Orchestrator) State() *State { return o.state }

// Launch validates req and starts a background job of kind. It returns
// ErrJobRunning if that kind is already in flight, in which case the running
// job is untouched.
func (o *Orchestrator) Launch(kind JobKind, req Request) (JobState, error) {
	if _, err := ParseJobKind(string(kind)); err != nil {
		return JobState{}, err
	}
	addrs, err := o.resolve(kind, req)
	if err != nil {
		return JobState{}, err
	}

	runID := uuid.NewString()
	if err := o.state.begin(kind, runID, o.now()); err != nil {
		return o.state.Job(kind), err
	}

	observability.JobsRunning.WithLabelValues(string(kind)).Inc()
	o.logger.Info("sensor control job started",
		zap.String("kind", string(kind)),
		zap.String("run_id", runID),
		zap.Int("stations", len(addrs)))

	o.wg.Add(1)
	go o.run(kind, runID, req, addrs)

	return o.state.Job(kind), nil
}

func (o *Orchestrator) resolve(kind JobKind, req Request) ([]remote.Address, error) {
	if len(req.Addresses) == 0 && o.addressBook != nil {
		req.Addresses = o.addressBook()
	}
	return req.Validate(kind)
}

func (o *Orchestrator) run(kind JobKind, runID string, req Request, addrs []remote.Address) {
	defer o.wg.Done()
	defer observability.JobsRunning.WithLabelValues(string(kind)).Dec()

	start := o.now()
	art, results, err := o.execute(kind, runID, req, addrs)

	if err != nil {
		prev := o.state.fail(kind, runID, err, o.now())
		o.discard(prev)
		observability.Jobs.WithLabelValues(string(kind), string(Failed)).Inc()
		o.logger.Error("sensor control job failed",
			zap.String("kind", string(kind)),
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	prev := o.state.complete(kind, runID, art, results, o.now())
	if prev != nil && prev.Location == artifact.OnDisk && prev.Path() != art.Path() {
		o.discard(prev)
	}
	observability.Jobs.WithLabelValues(string(kind), string(Completed)).Inc()
	o.logger.Info("sensor control job completed",
		zap.String("kind", string(kind)),
		zap.String("run_id", runID),
		zap.String("artifact", art.Name),
		zap.String("location", string(art.Location)),
		zap.Int64("bytes", art.Size),
		zap.Duration("took", o.now().Sub(start)))
}

// execute runs one job, converting panics into errors.
func (o *Orchestrator) execute(kind JobKind, runID string, req Request, addrs []remote.Address) (art *artifact.Artifact, results []remote.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	ctx := o.ctx
	switch kind {
	case StatusCheck:
		return o.runStatusCheck(ctx, addrs)
	case ReportCombo:
		art, err = o.runReportCombo(ctx, addrs, req.Reports, req.Zipped)
		return art, nil, err
	case DownloadDatabases, DownloadLogs, DownloadBigZip:
		art, err = o.runDownload(ctx, kind, runID, addrs)
		return art, nil, err
	}
	return nil, nil, fmt.Errorf("unsupported job kind %q", kind)
}

func (o *Orchestrator) discard(art *artifact.Artifact) {
	if art == nil || art.Location != artifact.OnDisk {
		return
	}
	if err := os.Remove(art.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("failed to remove superseded artifact", zap.String("path", art.Path()), zap.Error(err))
	}
}

// Job returns the current state of kind.
func (o *Orchestrator) Job(kind JobKind) JobState { return o.state.Job(kind) }

// Jobs returns the state of every kind.
func (o *Orchestrator) Jobs() []JobState {
	out := make([]JobState, 0, len(JobKinds))
	for _, k := range JobKinds {
		out = append(out, o.state.Job(k))
	}
	return out
}

// Artifact returns the downloadable result of kind. While a new run is in
// progress the previous result is still returned.
func (o *Orchestrator) Artifact(kind JobKind) (*artifact.Artifact, bool) {
	return o.state.Artifact(kind)
}

// Addresses is the configured station list.
func (o *Orchestrator) Addresses() []string {
	if o.addressBook == nil {
		return nil
	}
	return o.addressBook()
}

// Wait blocks until every launched job has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) controlDir() string {
	return filepath.Join(o.settings.DataDir, "sensor_control")
}

// diskPath is where run runID of kind spills its artifact. Each run gets its
// own file so a published artifact is never rewritten in place.
func (o *Orchestrator) diskPath(kind JobKind, runID string) string {
	return filepath.Join(o.controlDir(), string(kind)+"-"+runID+".zip")
}

func (o *Orchestrator) artifactName(kind JobKind, ext string) string {
	return artifact.Name(kind.Label(), o.settings.Hostname, o.now(), ext)
}
