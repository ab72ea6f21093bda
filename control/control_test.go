package control_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

var login = remote.Credentials{Username: "Kootnet", Password: "sensors"}

// fakeStation serves the station commands Sensor Control relies on.
type fakeStation struct {
	hostname   string
	dbSizeMB   string
	logsSizeKB string
	db         []byte
	logs       []byte
	delay      time.Duration
	hold       atomic.Value
	applied    atomic.Value
}

func (f *fakeStation) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u, p, ok := r.BasicAuth(); !ok || u != login.Username || p != login.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	wait := func(d time.Duration) bool {
		select {
		case <-time.After(d):
			return true
		case <-r.Context().Done():
			return false
		}
	}

	switch strings.TrimPrefix(r.URL.Path, "/") {
	case remote.CmdCheckOnlineStatus, remote.CmdTestLogin:
		if f.delay > 0 && !wait(f.delay) {
			return
		}
		_, _ = io.WriteString(w, "OK")
	case remote.CmdGetHostName:
		_, _ = io.WriteString(w, f.hostname)
	case remote.CmdGetSQLDBSize:
		_, _ = io.WriteString(w, f.dbSizeMB)
	case remote.CmdGetZippedLogsSize:
		_, _ = io.WriteString(w, f.logsSizeKB)
	case remote.CmdDownloadSQLDatabase:
		if hold, ok := f.hold.Load().(chan struct{}); ok {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write(f.db)
	case remote.CmdDownloadZippedLogs:
		_, _ = w.Write(f.logs)
	case remote.CmdDownloadEverything:
		_, _ = w.Write(append(append([]byte{}, f.db...), f.logs...))
	case remote.CmdGetSystemData:
		_, _ = io.WriteString(w, `{"hostname":"`+f.hostname+`","uptime_minutes":42}`)
	case remote.CmdGetConfigurationReport:
		_, _ = io.WriteString(w, `{"station_name":"`+f.hostname+`"}`)
	case remote.CmdGetSensorReadings:
		_, _ = io.WriteString(w, `{"temperature_c":21.5}`)
	case remote.CmdGetSensorsLatency:
		_, _ = io.WriteString(w, `{"bme280":0.004}`)
	case remote.CmdSetPrimaryConfiguration:
		_ = r.ParseForm()
		f.applied.Store(r.PostForm.Get("station_name"))
		_, _ = io.WriteString(w, "OK")
	default:
		http.NotFound(w, r)
	}
}

func startStation(t *testing.T, f *fakeStation) string {
	t.Helper()
	srv := httptest.NewTLSServer(f)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

// deadAddress returns an address nothing listens on.
func deadAddress(t *testing.T) string {
	t.Helper()
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()
	return u.Host
}

type clock struct {
	mu sync.Mutex
	n  int64
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return time.Unix(1700000000+c.n, 0)
}

func newOrchestrator(t *testing.T, threshold int64, statusTimeout time.Duration) (*control.Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	state := control.NewState(login)
	o := control.New(context.Background(), state, remote.NewClient(state), control.Settings{
		DataDir:         dir,
		StatusTimeout:   statusTimeout,
		DownloadTimeout: 5 * time.Second,
		MemoryThreshold: threshold,
		Hostname:        "operator",
	}, control.WithClock((&clock{}).now))
	t.Cleanup(o.Wait)
	return o, dir
}

func zipEntries(t *testing.T, art *artifact.Artifact) map[string]string {
	t.Helper()
	data, err := art.Bytes()
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestLaunchRejectsEmptyAddressList(t *testing.T) {
	o, _ := newOrchestrator(t, 0, time.Second)

	_, err := o.Launch(control.StatusCheck, control.Request{Addresses: []string{" "}})
	require.ErrorIs(t, err, remote.ErrNoAddresses)

	js := o.Job(control.StatusCheck)
	assert.Equal(t, control.Idle, js.Phase)
	assert.False(t, js.InProgress)
	assert.Equal(t, artifact.None, js.ResultLocation)
}

func TestLaunchRejectsComboWithoutReports(t *testing.T) {
	o, _ := newOrchestrator(t, 0, time.Second)
	_, err := o.Launch(control.ReportCombo, control.Request{Addresses: []string{"10.0.0.5"}})
	assert.ErrorIs(t, err, control.ErrNoReports)
}

func TestLaunchUsesAddressBookWhenRequestIsEmpty(t *testing.T) {
	addr := startStation(t, &fakeStation{hostname: "porch"})
	state := control.NewState(login)
	o := control.New(context.Background(), state, remote.NewClient(state), control.Settings{DataDir: t.TempDir(), Hostname: "op"},
		control.WithAddressBook(func() []string { return []string{addr} }))

	_, err := o.Launch(control.StatusCheck, control.Request{})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.StatusCheck)
	require.Len(t, js.Results, 1)
	assert.Equal(t, "porch", js.Results[0].Hostname)
}

func TestStatusCheckJob(t *testing.T) {
	fast := startStation(t, &fakeStation{hostname: "kitchen"})
	slow := startStation(t, &fakeStation{hostname: "attic", delay: 5 * time.Second})
	o, _ := newOrchestrator(t, 0, 300*time.Millisecond)

	js, err := o.Launch(control.StatusCheck, control.Request{Addresses: []string{slow, fast}})
	require.NoError(t, err)
	assert.True(t, js.InProgress)
	assert.Equal(t, control.Running, js.Phase)

	o.Wait()

	js = o.Job(control.StatusCheck)
	require.Equal(t, control.Completed, js.Phase)
	require.Len(t, js.Results, 2)
	assert.Less(t, js.Results[0].Address.Key(), js.Results[1].Address.Key())

	for _, r := range js.Results {
		switch r.Address.Raw() {
		case fast:
			assert.Equal(t, remote.StatusOk, r.Status)
			assert.Equal(t, "kitchen", r.Hostname)
		case slow:
			assert.Equal(t, remote.StatusOffline, r.Status)
			assert.Equal(t, "NA", r.ElapsedString())
		}
	}

	art, ok := o.Artifact(control.StatusCheck)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(art.Name, "StatusCheck_operator_"))
	assert.Equal(t, js.ResultName, art.Name)
	assert.Equal(t, artifact.InMemory, js.ResultLocation)
}

func TestConcurrentLaunchesStartExactlyOneJob(t *testing.T) {
	addr := startStation(t, &fakeStation{hostname: "pi", delay: 200 * time.Millisecond})
	o, _ := newOrchestrator(t, 0, 2*time.Second)

	const launches = 16
	var (
		started atomic.Int32
		busy    atomic.Int32
		wg      sync.WaitGroup
		gate    = make(chan struct{})
	)
	for i := 0; i < launches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := o.Launch(control.StatusCheck, control.Request{Addresses: []string{addr}})
			switch err {
			case nil:
				started.Add(1)
			case control.ErrJobRunning:
				busy.Add(1)
			default:
				t.Errorf("unexpected launch error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, launches-1, busy.Load())

	o.Wait()
	js := o.Job(control.StatusCheck)
	assert.Equal(t, control.Completed, js.Phase)
	assert.False(t, js.InProgress)
	assert.Len(t, js.Results, 1)
}

func TestDownloadDatabasesInMemory(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "10", db: []byte("alpha-db")})
	b := startStation(t, &fakeStation{hostname: "beta", dbSizeMB: "10", db: []byte("beta-db")})
	o, dir := newOrchestrator(t, 50<<20, time.Second)

	_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{a, b}})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.DownloadDatabases)
	require.Equal(t, control.Completed, js.Phase, js.Error)
	assert.Equal(t, artifact.InMemory, js.ResultLocation)
	assert.True(t, strings.HasPrefix(js.ResultName, "Multiple_Databases_operator_"))
	assert.True(t, strings.HasSuffix(js.ResultName, ".zip"))

	art, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	files := zipEntries(t, art)
	assert.Len(t, files, 2)

	var contents []string
	for name, body := range files {
		assert.True(t, strings.HasSuffix(name, ".zip"), name)
		contents = append(contents, body)
	}
	assert.ElementsMatch(t, []string{"alpha-db", "beta-db"}, contents)

	spilled, _ := filepath.Glob(filepath.Join(dir, "sensor_control", "*.zip"))
	assert.Empty(t, spilled)
}

func TestDownloadDatabasesOnDisk(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "40", db: []byte("alpha-db")})
	b := startStation(t, &fakeStation{hostname: "beta", dbSizeMB: "40", db: []byte("beta-db")})
	o, dir := newOrchestrator(t, 50<<20, time.Second)

	_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{a, b}})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.DownloadDatabases)
	require.Equal(t, control.Completed, js.Phase, js.Error)
	assert.Equal(t, artifact.OnDisk, js.ResultLocation)

	art, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "sensor_control", "download-databases-"+js.RunID+".zip"), art.Path())
	assert.Len(t, zipEntries(t, art), 2)

	leftovers, err := os.ReadDir(filepath.Join(dir, "sensor_control"))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1, "spool directory must be removed")
}

func TestDownloadSkipsUnreachableStations(t *testing.T) {
	good := startStation(t, &fakeStation{hostname: "alpha", logsSizeKB: "5", logs: []byte("log")})
	o, _ := newOrchestrator(t, 50<<20, 500*time.Millisecond)

	_, err := o.Launch(control.DownloadLogs, control.Request{Addresses: []string{good, deadAddress(t)}})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.DownloadLogs)
	require.Equal(t, control.Completed, js.Phase, js.Error)
	art, _ := o.Artifact(control.DownloadLogs)
	files := zipEntries(t, art)
	require.Len(t, files, 1)
	for name, body := range files {
		assert.Contains(t, name, "_alpha.zip")
		assert.Equal(t, "log", body)
	}
}

func TestFailedRunClearsPreviousResult(t *testing.T) {
	addr := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "1", db: []byte("db")})
	o, _ := newOrchestrator(t, 50<<20, 500*time.Millisecond)

	_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{addr}})
	require.NoError(t, err)
	o.Wait()
	require.Equal(t, control.Completed, o.Job(control.DownloadDatabases).Phase)

	_, err = o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{deadAddress(t)}})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.DownloadDatabases)
	assert.Equal(t, control.Failed, js.Phase)
	assert.False(t, js.InProgress)
	assert.Empty(t, js.ResultName)
	assert.Equal(t, artifact.None, js.ResultLocation)
	assert.Contains(t, js.Error, artifact.ErrNoEntries.Error())

	_, ok := o.Artifact(control.DownloadDatabases)
	assert.False(t, ok)
}

func TestPreviousArtifactVisibleWhileRunning(t *testing.T) {
	station := &fakeStation{hostname: "alpha", dbSizeMB: "1", db: []byte("db")}
	addr := startStation(t, station)
	o, _ := newOrchestrator(t, 50<<20, time.Second)

	_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{addr}})
	require.NoError(t, err)
	o.Wait()
	first, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)

	release := make(chan struct{})
	station.hold.Store(release)

	_, err = o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{addr}})
	require.NoError(t, err)

	js := o.Job(control.DownloadDatabases)
	assert.True(t, js.InProgress)
	assert.Equal(t, first.Name, js.ResultName)
	current, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	assert.Same(t, first, current)

	close(release)
	o.Wait()

	second, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	assert.NotEqual(t, first.Name, second.Name)
}

func TestOnDiskRerunLeavesPublishedFileUntouched(t *testing.T) {
	station := &fakeStation{hostname: "alpha", dbSizeMB: "60", db: []byte("first-db")}
	addr := startStation(t, station)
	o, dir := newOrchestrator(t, 50<<20, time.Second)

	_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{addr}})
	require.NoError(t, err)
	o.Wait()
	first, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	require.Equal(t, artifact.OnDisk, first.Location)
	firstBytes, err := os.ReadFile(first.Path())
	require.NoError(t, err)

	station.db = []byte("second-db")
	release := make(chan struct{})
	station.hold.Store(release)

	_, err = o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{addr}})
	require.NoError(t, err)

	current, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	assert.Same(t, first, current)
	data, err := os.ReadFile(first.Path())
	require.NoError(t, err)
	assert.Equal(t, firstBytes, data)

	close(release)
	o.Wait()

	second, ok := o.Artifact(control.DownloadDatabases)
	require.True(t, ok)
	require.Equal(t, artifact.OnDisk, second.Location)
	assert.NotEqual(t, first.Path(), second.Path())
	assert.Equal(t, filepath.Dir(first.Path()), filepath.Dir(second.Path()))

	_, err = os.Stat(first.Path())
	assert.True(t, os.IsNotExist(err), "superseded artifact must be removed")

	var bodies []string
	for _, body := range zipEntries(t, second) {
		bodies = append(bodies, body)
	}
	assert.Equal(t, []string{"second-db"}, bodies)

	leftovers, err := os.ReadDir(filepath.Join(dir, "sensor_control"))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1)
}

func TestSequentialRunsProduceIdenticalArchives(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "1", db: []byte("alpha-db")})
	b := startStation(t, &fakeStation{hostname: "beta", dbSizeMB: "1", db: []byte("beta-db")})
	o, _ := newOrchestrator(t, 50<<20, time.Second)

	var blobs [][]byte
	var names []string
	for i := 0; i < 2; i++ {
		_, err := o.Launch(control.DownloadDatabases, control.Request{Addresses: []string{a, b}})
		require.NoError(t, err)
		o.Wait()
		art, ok := o.Artifact(control.DownloadDatabases)
		require.True(t, ok)
		data, err := art.Bytes()
		require.NoError(t, err)
		blobs = append(blobs, data)
		names = append(names, art.Name)
	}

	assert.Equal(t, blobs[0], blobs[1])
	assert.NotEqual(t, names[0], names[1])
	trim := func(s string) string { return s[:strings.LastIndex(s, "_")] }
	assert.Equal(t, trim(names[0]), trim(names[1]))
}

func TestBigZipContainsEverythingAndComboReport(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "1", logsSizeKB: "1", db: []byte("D"), logs: []byte("L")})
	o, _ := newOrchestrator(t, 50<<20, time.Second)

	_, err := o.Launch(control.DownloadBigZip, control.Request{Addresses: []string{a}})
	require.NoError(t, err)
	o.Wait()

	js := o.Job(control.DownloadBigZip)
	require.Equal(t, control.Completed, js.Phase, js.Error)
	assert.True(t, strings.HasPrefix(js.ResultName, "TheBigZip_operator_"))

	art, _ := o.Artifact(control.DownloadBigZip)
	files := zipEntries(t, art)
	require.Contains(t, files, control.ComboReportFile)
	assert.Contains(t, files[control.ComboReportFile], "Sensor Report - System")
	assert.NotContains(t, files[control.ComboReportFile], "{{")

	for name, body := range files {
		if name != control.ComboReportFile {
			assert.Equal(t, "DL", body)
		}
	}
}

func TestReportComboSelectedSectionsOnly(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha"})
	o, _ := newOrchestrator(t, 0, time.Second)

	_, err := o.Launch(control.ReportCombo, control.Request{
		Addresses: []string{a},
		Reports:   control.ReportSelection{System: true, Latency: true},
	})
	require.NoError(t, err)
	o.Wait()

	art, ok := o.Artifact(control.ReportCombo)
	require.True(t, ok)
	doc, err := art.Bytes()
	require.NoError(t, err)

	s := string(doc)
	assert.Contains(t, s, "uptime_minutes")
	assert.Contains(t, s, "0.004")
	assert.NotContains(t, s, "station_name")
	assert.NotContains(t, s, "temperature_c")
	assert.NotContains(t, s, "{{")

	_, ok = o.CachedReport(artifact.ReportSystem)
	assert.True(t, ok)
	_, ok = o.CachedReport(artifact.ReportLatency)
	assert.True(t, ok)
	_, ok = o.CachedReport(artifact.ReportConfiguration)
	assert.False(t, ok)
}

func TestReportComboZipped(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha"})
	o, _ := newOrchestrator(t, 0, time.Second)

	_, err := o.Launch(control.ReportCombo, control.Request{Addresses: []string{a}, Reports: control.AllReports(), Zipped: true})
	require.NoError(t, err)
	o.Wait()

	art, ok := o.Artifact(control.ReportCombo)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(art.Name, "Reports_operator_"))
	files := zipEntries(t, art)
	assert.Contains(t, files[control.ComboReportFile], "temperature_c")
}

func TestGenerateReportCachesResult(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha"})
	o, _ := newOrchestrator(t, 0, time.Second)

	art, err := o.GenerateReport(context.Background(), artifact.ReportConfiguration, []string{a})
	require.NoError(t, err)

	cached, ok := o.CachedReport(artifact.ReportConfiguration)
	require.True(t, ok)
	assert.Same(t, art, cached)
}

func TestPlanDownloads(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha", dbSizeMB: "2"})
	dead := deadAddress(t)
	o, _ := newOrchestrator(t, 0, 500*time.Millisecond)

	plan, err := o.PlanDownloads(context.Background(), control.DownloadDatabases, []string{a, dead})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	for _, p := range plan {
		if p.Address == a {
			assert.Equal(t, remote.StatusOk, p.Status)
			assert.Equal(t, "alpha", p.Hostname)
			assert.EqualValues(t, 2<<20, p.SizeBytes)
			assert.Equal(t, "https://"+a+"/DownloadSQLDatabase", p.DownloadURL)
		} else {
			assert.Equal(t, remote.StatusOffline, p.Status)
			assert.Empty(t, p.DownloadURL)
		}
	}

	_, err = o.PlanDownloads(context.Background(), control.StatusCheck, []string{a})
	assert.Error(t, err)
}

func TestPushCommand(t *testing.T) {
	station := &fakeStation{hostname: "alpha"}
	a := startStation(t, station)
	o, _ := newOrchestrator(t, 0, time.Second)

	results, err := o.PushCommand(context.Background(), remote.CmdSetPrimaryConfiguration, url.Values{"station_name": {"porch"}}, []string{a})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, remote.StatusOk, results[0].Status)
	assert.Equal(t, "porch", station.applied.Load())

	_, err = o.PushCommand(context.Background(), remote.CmdDownloadSQLDatabase, nil, []string{a})
	assert.Error(t, err)
}

func TestCredentialsAreReadPerCall(t *testing.T) {
	a := startStation(t, &fakeStation{hostname: "alpha"})
	o, _ := newOrchestrator(t, 0, time.Second)

	results, err := o.CheckStatus(context.Background(), []string{a})
	require.NoError(t, err)
	assert.Equal(t, remote.StatusOk, results[0].Status)

	require.NoError(t, o.State().SetCredentials(remote.Credentials{Username: "other", Password: "x"}))
	results, err = o.CheckStatus(context.Background(), []string{a})
	require.NoError(t, err)
	assert.Equal(t, remote.StatusError, results[0].Status)

	assert.Error(t, o.State().SetCredentials(remote.Credentials{}))
}

func TestParseJobKind(t *testing.T) {
	k, err := control.ParseJobKind("Download-Logs")
	require.NoError(t, err)
	assert.Equal(t, control.DownloadLogs, k)
	assert.Equal(t, remote.CmdDownloadZippedLogs, k.Command())

	_, err = control.ParseJobKind("reboot")
	assert.Error(t, err)
}
