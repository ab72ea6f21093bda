package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/anibaldeboni/zero-paper/sensorhub/web"
)

// FileStore holds the live configuration and writes changes back to its file.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	config *AppConfig
}

// NewFileStore wraps cfg, persisted at path.
func NewFileStore(path string, cfg *AppConfig) *FileStore {
	return &FileStore{path: path, config: cfg.Clone()}
}

func (s *FileStore) Path() string { return s.path }

// Current returns a copy of the configuration.
func (s *FileStore) Current() *AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

// Report implements web.ConfigStore.
func (s *FileStore) Report() any {
	return s.Current().Masked()
}

// Apply runs fn on a copy and keeps the result only if it validates.
func (s *FileStore) Apply(fn func(*AppConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.config.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.config = next
	return nil
}

// ApplyPrimary implements web.ConfigStore.
func (s *FileStore) ApplyPrimary(p web.PrimarySettings, dryRun bool) error {
	apply := func(c *AppConfig) error {
		if p.StationName != nil {
			c.Station.Name = *p.StationName
		}
		if p.RecordingInterval != nil {
			c.Recording.Interval = *p.RecordingInterval
		}
		if p.TriggerEnabled != nil {
			c.Recording.Trigger.Enabled = *p.TriggerEnabled
		}
		if p.MemoryThresholdMB != nil {
			c.SensorControl.MemoryThresholdMB = *p.MemoryThresholdMB
		}
		return nil
	}

	if dryRun {
		next := s.Current()
		if err := apply(next); err != nil {
			return err
		}
		return next.Validate()
	}
	if err := s.Apply(apply); err != nil {
		return err
	}
	return s.Save()
}

// Save writes the configuration through a temporary file and a rename so a
// crash never leaves a truncated file behind.
func (s *FileStore) Save() error {
	if s.path == "" {
		return fmt.Errorf("no configuration file to save to")
	}

	data, err := yaml.Marshal(s.Current())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sensorhub-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

var _ web.ConfigStore = (*FileStore)(nil)
