package remote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

type staticCreds remote.Credentials

func (s staticCreds) Credentials() remote.Credentials { return remote.Credentials(s) }

var testCreds = staticCreds{Username: "Kootnet", Password: "sensors"}

// station starts a fake remote station. delay is applied to every request and
// is abandoned as soon as the client goes away.
func station(t *testing.T, hostname string, delay time.Duration) (*httptest.Server, remote.Address) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testCreds.Username || pass != testCreds.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		switch strings.TrimPrefix(r.URL.Path, "/") {
		case remote.CmdCheckOnlineStatus:
			_, _ = w.Write([]byte("OK"))
		case remote.CmdGetHostName:
			_, _ = w.Write([]byte(hostname + "\n"))
		case remote.CmdSetPrimaryConfiguration:
			_ = r.ParseForm()
			_, _ = w.Write([]byte("applied " + r.PostForm.Get("station_name")))
		default:
			http.NotFound(w, r)
		}
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return srv, remote.MustParseAddress(u.Host)
}

func newClient() *remote.Client {
	return remote.NewClient(testCreds)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		key     string
		station string
		wantErr bool
	}{
		{in: "10.0.0.5", key: "10.0.0.5:10065", station: "5"},
		{in: " 10.0.0.9:10066 ", key: "10.0.0.9:10066", station: "9-10066"},
		{in: "https://Sensor-A.lan/", key: "sensor-a.lan:10065", station: "sensor-a"},
		{in: "[fe80::1]:443", key: "[fe80::1]:443", station: "fe80--1-443"},
		{in: "fe80::2", key: "[fe80::2]:10065", station: "fe80--2"},
		{in: "10.0.0.5:notaport", wantErr: true},
		{in: "10.0.0.5:70000", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "bad host", wantErr: true},
		{in: "fe80::1%eth0", wantErr: true},
		{in: "[fe80::1%eth0]:10065", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			addr, err := remote.ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, addr.Key())
			assert.Equal(t, tt.station, addr.StationID())
			assert.Equal(t, strings.TrimSpace(tt.in), addr.Raw())
		})
	}
}

func TestGatherPanicLeavesZeroValueAndLogs(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	good := remote.MustParseAddress("10.0.0.1")
	bad := remote.MustParseAddress("10.0.0.2")

	out := remote.Gather(context.Background(), []remote.Address{bad, good}, func(_ context.Context, addr remote.Address) string {
		if addr.Key() == bad.Key() {
			panic("boom")
		}
		return addr.Key()
	})

	assert.Equal(t, []string{good.Key(), ""}, out)
	entries := logs.FilterMessage("station call panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, bad.Key(), entries[0].ContextMap()["address"])
	assert.Equal(t, "boom", entries[0].ContextMap()["panic"])
}

func TestParseAddressesRejectsEmptyList(t *testing.T) {
	_, err := remote.ParseAddresses(nil)
	assert.ErrorIs(t, err, remote.ErrNoAddresses)

	_, err = remote.ParseAddresses([]string{"", "  "})
	assert.ErrorIs(t, err, remote.ErrNoAddresses)
	assert.Equal(t, "please set at least one remote sensor address", remote.ErrNoAddresses.Error())
}

func TestParseAddressesDeduplicates(t *testing.T) {
	addrs, err := remote.ParseAddresses([]string{"10.0.0.5", "10.0.0.5:10065", "10.0.0.6"})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "10.0.0.5", addrs[0].Raw())
}

func TestAddressURL(t *testing.T) {
	addr := remote.MustParseAddress("10.0.0.5")
	assert.Equal(t, "https://10.0.0.5:10065/GetHostName", addr.URL("GetHostName"))
	assert.Equal(t, "https://10.0.0.5:10065/GetHostName", addr.URL("/GetHostName"))
}

func TestDispatchReturnsOneResultPerAddressSorted(t *testing.T) {
	// Later addresses answer first.
	var addrs []remote.Address
	for i, delay := range []time.Duration{150 * time.Millisecond, 75 * time.Millisecond, 0} {
		_, addr := station(t, "station"+string(rune('a'+i)), delay)
		addrs = append(addrs, addr)
	}
	// Feed them in reverse key order.
	reversed := remote.SortAddresses(addrs)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	results := remote.Dispatch(context.Background(), newClient(), reversed, remote.CmdCheckOnlineStatus, 2*time.Second)

	require.Len(t, results, len(addrs))
	for i := 1; i < len(results); i++ {
		assert.Less(t, results[i-1].Address.Key(), results[i].Address.Key())
	}
	for _, res := range results {
		assert.Equal(t, remote.StatusOk, res.Status)
		assert.Equal(t, "OK", res.Text())
	}
}

func TestDispatchIsBoundedByOneTimeout(t *testing.T) {
	timeout := 300 * time.Millisecond

	var addrs []remote.Address
	for i := 0; i < 3; i++ {
		_, addr := station(t, "fast", 0)
		addrs = append(addrs, addr)
	}
	_, slow := station(t, "slow", 5*time.Second)
	addrs = append(addrs, slow)

	start := time.Now()
	results := remote.Dispatch(context.Background(), newClient(), addrs, remote.CmdCheckOnlineStatus, timeout)
	elapsed := time.Since(start)

	require.Len(t, results, 4)
	assert.Less(t, elapsed, 2*timeout, "fan-out must not serialize timeouts")

	for _, res := range results {
		if res.Address.Key() == slow.Key() {
			assert.Equal(t, remote.StatusOffline, res.Status)
			assert.Equal(t, remote.NotAvailable, res.ElapsedString())
			continue
		}
		assert.Equal(t, remote.StatusOk, res.Status)
	}
}

func TestCheckStatusMixedStations(t *testing.T) {
	_, ok := station(t, "kitchen", 20*time.Millisecond)
	_, hung := station(t, "attic", 5*time.Second)

	results := remote.CheckStatus(context.Background(), newClient(), []remote.Address{hung, ok}, 400*time.Millisecond)
	require.Len(t, results, 2)

	byKey := map[string]remote.Result{}
	for _, r := range results {
		byKey[r.Address.Key()] = r
	}

	good := byKey[ok.Key()]
	assert.Equal(t, remote.StatusOk, good.Status)
	assert.Equal(t, "kitchen", good.Hostname)
	assert.GreaterOrEqual(t, good.Elapsed, 20*time.Millisecond)
	assert.Regexp(t, `^\d+\.\d{3}$`, good.ElapsedString())

	bad := byKey[hung.Key()]
	assert.Equal(t, remote.StatusOffline, bad.Status)
	assert.Equal(t, "Offline", bad.Hostname)
	assert.Equal(t, "NA", bad.ElapsedString())
}

func TestClientClassifiesFailures(t *testing.T) {
	_, addr := station(t, "x", 0)

	t.Run("wrong credentials are an error", func(t *testing.T) {
		c := remote.NewClient(staticCreds{Username: "nope", Password: "nope"})
		res := c.Call(context.Background(), addr, remote.CmdCheckOnlineStatus, time.Second)
		assert.Equal(t, remote.StatusError, res.Status)
		assert.Contains(t, res.Detail, "401")
	})

	t.Run("unknown command is an error", func(t *testing.T) {
		res := newClient().Call(context.Background(), addr, "NoSuchCommand", time.Second)
		assert.Equal(t, remote.StatusError, res.Status)
		assert.Empty(t, res.Payload)
	})

	t.Run("refused connection is offline", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		closed := remote.MustParseAddress(l.Addr().String())
		require.NoError(t, l.Close())

		res := newClient().Call(context.Background(), closed, remote.CmdCheckOnlineStatus, time.Second)
		assert.Equal(t, remote.StatusOffline, res.Status)
	})

	t.Run("unexpected status reply is an error", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("maintenance"))
		}))
		defer srv.Close()
		u, _ := url.Parse(srv.URL)

		res := remote.Probe(context.Background(), newClient(), remote.MustParseAddress(u.Host), time.Second)
		assert.Equal(t, remote.StatusError, res.Status)
		assert.Equal(t, "NA", res.ElapsedString())
	})
}

func TestDownloadStreamsBody(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 1<<16)
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	var buf bytes.Buffer
	res := newClient().Download(context.Background(), remote.MustParseAddress(u.Host), remote.CmdDownloadSQLDatabase, time.Second, &buf)

	require.Equal(t, remote.StatusOk, res.Status)
	assert.Nil(t, res.Payload)
	assert.Equal(t, payload, buf.Bytes())
	assert.EqualValues(t, 1, hits.Load())
}

func TestPushPostsForm(t *testing.T) {
	_, a := station(t, "a", 0)
	_, b := station(t, "b", 0)

	form := url.Values{"station_name": {"porch"}}
	results := remote.Push(context.Background(), newClient(), []remote.Address{b, a}, remote.CmdSetPrimaryConfiguration, form, time.Second)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, remote.StatusOk, res.Status)
		assert.Equal(t, "applied porch", res.Text())
	}
}

func TestResultJSONHidesPayload(t *testing.T) {
	res := remote.Result{
		Address: remote.MustParseAddress("10.0.0.5"),
		Command: remote.CmdCheckOnlineStatus,
		Status:  remote.StatusOk,
		Elapsed: 200 * time.Millisecond,
		Payload: []byte("secret"),
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Contains(t, string(data), `"elapsed":"0.200"`)
	assert.Contains(t, string(data), `"station":"10.0.0.5:10065"`)
}
