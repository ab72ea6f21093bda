package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

// ErrNoEntries is returned when there is nothing to put in an archive.
var ErrNoEntries = errors.New("no station returned data for the archive")

// Entry is one file inside an archive. Exactly one of Data or Path is used.
type Entry struct {
	Name string
	Data []byte
	Path string
}

func (e Entry) open() (io.ReadCloser, error) {
	if e.Path != "" {
		return os.Open(e.Path)
	}
	return io.NopCloser(bytes.NewReader(e.Data)), nil
}

// EntryName names a station's file inside a merged archive:
// <station id>_<remote hostname>.zip.
func EntryName(addr remote.Address, hostname string) string {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		hostname = "unknown"
	}
	return addr.StationID() + "_" + sanitizeName(hostname) + ".zip"
}

// UniqueEntries suffixes repeated names with -2, -3 and so on, keeping order.
func UniqueEntries(entries []Entry) []Entry {
	seen := make(map[string]int, len(entries))
	out := make([]Entry, len(entries))
	for i, e := range entries {
		seen[e.Name]++
		if n := seen[e.Name]; n > 1 {
			ext := filepath.Ext(e.Name)
			e.Name = strings.TrimSuffix(e.Name, ext) + "-" + strconv.Itoa(n) + ext
		}
		out[i] = e
	}
	return out
}

// WriteZip writes entries to w as a deflated zip. Entry timestamps are left
// unset so identical inputs produce identical archives.
func WriteZip(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)

	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", e.Name, err)
		}
		r, err := e.open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", e.Name, err)
		}
		_, err = io.Copy(fw, r)
		r.Close()
		if err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// Assembler turns collected station payloads into artifacts.
type Assembler struct {
	Now func() time.Time
}

func (a Assembler) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Archive zips entries into an artifact named name. OnDisk artifacts are
// written to a temp file beside diskPath and renamed over it.
func (a Assembler) Archive(name string, entries []Entry, loc Location, diskPath string) (*Artifact, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	entries = UniqueEntries(entries)

	if loc != OnDisk {
		var buf bytes.Buffer
		if err := WriteZip(&buf, entries); err != nil {
			return nil, err
		}
		return NewInMemory(name, "application/zip", buf.Bytes(), a.now()), nil
	}

	return a.toDisk(name, "application/zip", diskPath, func(w io.Writer) error {
		return WriteZip(w, entries)
	})
}

// HTML publishes a rendered document.
func (a Assembler) HTML(name string, doc []byte) *Artifact {
	return NewInMemory(name, "text/html; charset=utf-8", doc, a.now())
}

func (a Assembler) toDisk(name, contentType, path string, write func(io.Writer) error) (*Artifact, error) {
	if path == "" {
		return nil, errors.New("no disk path for on-disk artifact")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("failed to publish artifact: %w", err)
	}
	tmpName = ""

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return &Artifact{
		Name:        name,
		Location:    OnDisk,
		ContentType: contentType,
		Size:        info.Size(),
		CreatedAt:   a.now(),
		path:        path,
	}, nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
