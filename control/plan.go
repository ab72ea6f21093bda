package control

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// PlanEntry describes one station's contribution to a download, so the
// operator can fetch files directly instead of waiting for a merged archive.
type PlanEntry struct {
	Address     string        `json:"address"`
	Station     string        `json:"station"`
	Hostname    string        `json:"hostname"`
	Status      remote.Status `json:"status"`
	Elapsed     string        `json:"elapsed"`
	SizeBytes   int64         `json:"size_bytes"`
	DownloadURL string        `json:"download_url,omitempty"`
}

// PlanDownloads probes every station and reports what a download of kind
// would fetch from it.
func (o *Orchestrator) PlanDownloads(ctx context.Context, kind JobKind, addresses []string) ([]PlanEntry, error) {
	if !kind.IsDownload() {
		return nil, fmt.Errorf("%s is not a download", kind)
	}
	addrs, err := o.resolve(kind, Request{Addresses: addresses})
	if err != nil {
		return nil, err
	}

	return remote.Gather(ctx, addrs, func(ctx context.Context, addr remote.Address) PlanEntry {
		probe := remote.Probe(ctx, o.caller, addr, o.settings.StatusTimeout)
		entry := PlanEntry{
			Address:  addr.Raw(),
			Station:  addr.Key(),
			Hostname: probe.Hostname,
			Status:   probe.Status,
			Elapsed:  probe.ElapsedString(),
		}
		if probe.Status == remote.StatusOk {
			entry.SizeBytes = o.budgeter.Measure(ctx, []remote.Address{addr}, kind.sizeQueries()...)
			entry.DownloadURL = addr.URL(kind.Command())
		}
		return entry
	}), nil
}

// PushCommand posts command with form to every station and returns the
// sorted results. Only commands meant to be pushed are accepted.
func (o *Orchestrator) PushCommand(ctx context.Context, command string, form url.Values, addresses []string) ([]remote.Result, error) {
	if !remote.PushCommands[command] {
		return nil, fmt.Errorf("command %q cannot be pushed to stations", command)
	}
	if len(addresses) == 0 && o.addressBook != nil {
		addresses = o.addressBook()
	}
	addrs, err := remote.ParseAddresses(addresses)
	if err != nil {
		return nil, err
	}
	return remote.Push(ctx, o.caller, addrs, command, form, o.settings.StatusTimeout), nil
}

// CheckStatus runs a status check synchronously without touching job state.
func (o *Orchestrator) CheckStatus(ctx context.Context, addresses []string) ([]remote.Result, error) {
	addrs, err := o.resolve(StatusCheck, Request{Addresses: addresses})
	if err != nil {
		return nil, err
	}
	return remote.CheckStatus(ctx, o.caller, addrs, o.settings.StatusTimeout), nil
}

// StatusTimeout is the bound applied to status and metadata calls.
func (o *Orchestrator) StatusTimeout() time.Duration { return o.settings.StatusTimeout }
