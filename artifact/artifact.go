// Package artifact assembles Sensor Control deliverables: merged zip archives
// and merged HTML reports, held in memory or spilled to disk.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Artifact is a finished deliverable. It is immutable once published.
type Artifact struct {
	Name        string
	Location    Location
	ContentType string
	Size        int64
	CreatedAt   time.Time

	data []byte
	path string
}

// ReadSeekCloser is what the web layer streams to the client.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// Open returns a reader over the artifact's bytes.
func (a *Artifact) Open() (ReadSeekCloser, error) {
	switch a.Location {
	case InMemory:
		return nopCloser{bytes.NewReader(a.data)}, nil
	case OnDisk:
		f, err := os.Open(a.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact %s: %w", a.Name, err)
		}
		return f, nil
	default:
		return nil, errors.New("artifact has no content")
	}
}

// Bytes returns the in-memory content, reading it from disk if needed.
func (a *Artifact) Bytes() ([]byte, error) {
	if a.Location == InMemory {
		return a.data, nil
	}
	r, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Path is the on-disk location, empty for in-memory artifacts.
func (a *Artifact) Path() string { return a.path }

// NewInMemory wraps data as an in-memory artifact.
func NewInMemory(name, contentType string, data []byte, at time.Time) *Artifact {
	return &Artifact{
		Name:        name,
		Location:    InMemory,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   at,
		data:        data,
	}
}

// Name builds the delivered file name: <label>_<host>_<unix seconds><ext>.
func Name(label, host string, at time.Time, ext string) string {
	host = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, host)
	return label + "_" + host + "_" + strconv.FormatInt(at.Unix(), 10) + ext
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
