// Package config holds the format-agnostic project configuration model and
// the Loader interface implemented by format-specific packages.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads the project file at path and translates it into the
	// format-agnostic model.
	Load(ctx context.Context, path string) (*Model, error)
}

// Model is the unified representation of one project configuration.
type Model struct {
	Project Project
	// ImporterSettings maps importer name to its project-wide default
	// settings, merged under any per-asset .meta settings.
	ImporterSettings map[string]map[string]any
}

// Project is the daemon-level configuration of one asset project.
type Project struct {
	Name        string
	SourceRoots []string
	Ignore      []string
	DBPath      string
	ListenAddr  string
	NotifyAddr  string
	Workers     int
	Debounce    time.Duration
}

// Defaults applied by Validate for optional fields.
const (
	DefaultDBPath     = ".assetpipe/index.db"
	DefaultListenAddr = "127.0.0.1:9876"
	DefaultNotifyAddr = "127.0.0.1:9877"
	DefaultWorkers    = 4
	DefaultDebounce   = 200 * time.Millisecond
)

// Validate checks user-supplied values and fills in defaults.
func (m *Model) Validate() error {
	if m.Project.Name == "" {
		return errors.New("project name must not be empty")
	}
	if len(m.Project.SourceRoots) == 0 {
		return fmt.Errorf("project %q declares no source roots", m.Project.Name)
	}
	if m.Project.Workers < 0 {
		return fmt.Errorf("project %q has negative worker count", m.Project.Name)
	}
	if m.Project.DBPath == "" {
		m.Project.DBPath = DefaultDBPath
	}
	if m.Project.ListenAddr == "" {
		m.Project.ListenAddr = DefaultListenAddr
	}
	if m.Project.NotifyAddr == "" {
		m.Project.NotifyAddr = DefaultNotifyAddr
	}
	if m.Project.Workers == 0 {
		m.Project.Workers = DefaultWorkers
	}
	if m.Project.Debounce == 0 {
		m.Project.Debounce = DefaultDebounce
	}
	return nil
}
