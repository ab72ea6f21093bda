package control

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/artifact"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// ComboReportFile is the name of the merged report inside archives.
const ComboReportFile = "ReportCombo.html"

var spoolName = strings.NewReplacer(":", "_", "[", "", "]", "")

func (o *Orchestrator) runStatusCheck(ctx context.Context, addrs []remote.Address) (*artifact.Artifact, []remote.Result, error) {
	results := remote.CheckStatus(ctx, o.caller, addrs, o.settings.StatusTimeout)

	doc, err := artifact.RenderStatus(results)
	if err != nil {
		return nil, nil, err
	}
	return o.assembler.HTML(o.artifactName(StatusCheck, ".html"), doc), results, nil
}

func (o *Orchestrator) runReportCombo(ctx context.Context, addrs []remote.Address, sel ReportSelection, zipped bool) (*artifact.Artifact, error) {
	combo, err := o.comboReport(ctx, addrs, sel.Kinds())
	if err != nil {
		return nil, err
	}

	if !zipped {
		return o.assembler.HTML(o.artifactName(ReportCombo, ".html"), combo), nil
	}
	return o.assembler.Archive(
		o.artifactName(ReportCombo, ".zip"),
		[]artifact.Entry{{Name: ComboReportFile, Data: combo}},
		artifact.InMemory, "",
	)
}

// comboReport renders each selected sub-report from its own fan-out pass,
// caching every one of them, and merges them.
func (o *Orchestrator) comboReport(ctx context.Context, addrs []remote.Address, kinds []artifact.ReportKind) ([]byte, error) {
	fragments := make(map[artifact.ReportKind][]byte, len(kinds))
	for _, k := range kinds {
		art, err := o.renderReport(ctx, k, addrs)
		if err != nil {
			return nil, err
		}
		doc, err := art.Bytes()
		if err != nil {
			return nil, err
		}
		fragments[k] = doc
	}
	return artifact.Combine(fragments), nil
}

func (o *Orchestrator) renderReport(ctx context.Context, k artifact.ReportKind, addrs []remote.Address) (*artifact.Artifact, error) {
	results := remote.Dispatch(ctx, o.caller, addrs, k.Command(), o.settings.StatusTimeout)
	doc, err := artifact.RenderReport(k, results)
	if err != nil {
		return nil, err
	}
	art := o.assembler.HTML(artifact.Name(string(k)+"Report", o.settings.Hostname, o.now(), ".html"), doc)
	o.state.CacheReport(k, art)
	return art, nil
}

// GenerateReport renders one sub-report synchronously and caches it.
func (o *Orchestrator) GenerateReport(ctx context.Context, k artifact.ReportKind, addresses []string) (*artifact.Artifact, error) {
	if len(addresses) == 0 && o.addressBook != nil {
		addresses = o.addressBook()
	}
	addrs, err := remote.ParseAddresses(addresses)
	if err != nil {
		return nil, err
	}
	return o.renderReport(ctx, k, addrs)
}

// CachedReport returns the last generated sub-report of kind k.
func (o *Orchestrator) CachedReport(k artifact.ReportKind) (*artifact.Artifact, bool) {
	return o.state.Report(k)
}

// runDownload budgets, fetches every station's file concurrently and zips
// the ones that arrived. Large downloads are spooled to disk and the archive
// is written to the kind's fixed path.
func (o *Orchestrator) runDownload(ctx context.Context, kind JobKind, runID string, addrs []remote.Address) (*artifact.Artifact, error) {
	total := o.budgeter.Measure(ctx, addrs, kind.sizeQueries()...)
	loc := o.budgeter.Decide(total)
	o.logger.Info("download budget decided",
		zap.String("kind", string(kind)),
		zap.Int64("declared_bytes", total),
		zap.String("location", string(loc)))

	spool := ""
	if loc == artifact.OnDisk {
		spool = filepath.Join(o.controlDir(), "spool-"+runID)
		if err := os.MkdirAll(spool, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
		defer os.RemoveAll(spool)
	}

	fetched := remote.Gather(ctx, addrs, func(ctx context.Context, addr remote.Address) *artifact.Entry {
		return o.fetchStationFile(ctx, kind, addr, spool)
	})

	entries := make([]artifact.Entry, 0, len(fetched)+1)
	for _, e := range fetched {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	if len(entries) == 0 {
		return nil, artifact.ErrNoEntries
	}

	if kind == DownloadBigZip {
		combo, err := o.comboReport(ctx, addrs, AllReports().Kinds())
		if err != nil {
			return nil, err
		}
		entries = append(entries, artifact.Entry{Name: ComboReportFile, Data: combo})
	}

	return o.assembler.Archive(o.artifactName(kind, ".zip"), entries, loc, o.diskPath(kind, runID))
}

// fetchStationFile asks for the hostname and downloads kind's file from one
// station. It returns nil, after logging, when the station cannot serve it.
func (o *Orchestrator) fetchStationFile(ctx context.Context, kind JobKind, addr remote.Address, spool string) *artifact.Entry {
	host := o.caller.Call(ctx, addr, remote.CmdGetHostName, o.settings.StatusTimeout)
	if host.Status != remote.StatusOk {
		o.logger.Warn("skipping station without hostname",
			zap.String("address", addr.Key()), zap.String("status", string(host.Status)), zap.String("detail", host.Detail))
		return nil
	}
	name := artifact.EntryName(addr, strings.TrimSpace(host.Text()))

	if spool == "" {
		var buf bytes.Buffer
		res := o.caller.Download(ctx, addr, kind.Command(), o.settings.DownloadTimeout, &buf)
		if res.Status != remote.StatusOk {
			o.logSkip(kind, addr, res)
			return nil
		}
		return &artifact.Entry{Name: name, Data: buf.Bytes()}
	}

	path := filepath.Join(spool, spoolName.Replace(addr.Key())+".part")
	f, err := os.Create(path)
	if err != nil {
		o.logger.Error("failed to create spool file", zap.String("path", path), zap.Error(err))
		return nil
	}
	res := o.caller.Download(ctx, addr, kind.Command(), o.settings.DownloadTimeout, f)
	if cerr := f.Close(); cerr != nil && res.Status == remote.StatusOk {
		res.Status, res.Detail = remote.StatusError, cerr.Error()
	}
	if res.Status != remote.StatusOk {
		o.logSkip(kind, addr, res)
		_ = os.Remove(path)
		return nil
	}
	return &artifact.Entry{Name: name, Path: path}
}

func (o *Orchestrator) logSkip(kind JobKind, addr remote.Address, res remote.Result) {
	o.logger.Warn("skipping station download",
		zap.String("kind", string(kind)),
		zap.String("address", addr.Key()),
		zap.String("status", string(res.Status)),
		zap.String("detail", res.Detail))
}
