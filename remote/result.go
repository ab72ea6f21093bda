package remote

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status is the normalized outcome of one remote call.
type Status string

const (
	StatusOk      Status = "Ok"
	StatusOffline Status = "Offline"
	StatusError   Status = "Error"
)

// NotAvailable is shown in place of an elapsed time for calls that did not complete.
const NotAvailable = "NA"

// Result is the outcome of one call against one station. Results are values
// and are never mutated after the client returns them.
type Result struct {
	Address  Address
	Command  string
	Status   Status
	Elapsed  time.Duration
	Hostname string
	Payload  []byte
	// Detail carries the reason for a non-Ok status.
	Detail string
}

// Completed reports whether the remote answered successfully.
func (r Result) Completed() bool { return r.Status == StatusOk }

// ElapsedString renders the elapsed time in seconds with millisecond
// precision, or NA when the call did not complete.
func (r Result) ElapsedString() string {
	if !r.Completed() {
		return NotAvailable
	}
	return strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 3, 64)
}

// Text returns the payload as a string.
func (r Result) Text() string { return string(r.Payload) }

type resultJSON struct {
	Address  string `json:"address"`
	Station  string `json:"station"`
	Command  string `json:"command"`
	Status   Status `json:"status"`
	Elapsed  string `json:"elapsed"`
	Hostname string `json:"hostname,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// MarshalJSON renders the operator view; payloads are never serialized.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Address:  r.Address.Raw(),
		Station:  r.Address.Key(),
		Command:  r.Command,
		Status:   r.Status,
		Elapsed:  r.ElapsedString(),
		Hostname: r.Hostname,
		Detail:   r.Detail,
	})
}
