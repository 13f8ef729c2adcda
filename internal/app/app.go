// Package app wires configuration, logging, the registry, and the daemon
// into one runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/assetpipe/internal/config"
	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/registry"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// Verb selects the mode: "daemon" serves, "scan" imports once,
	// "pack" writes a pack file.
	Verb        string
	ProjectPath string
	PackOutput  string
	LogFormat   string
	LogLevel    string
	// Workers overrides the project file's worker count when positive.
	Workers int
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	config   *config.Model
}

// NewApp constructs a fully initialized App with its own isolated logger
// and registry. Configuration errors at this stage are fatal and panic;
// the CLI entrypoint recovers and turns them into a clean exit.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfgModel, err := loader.Load(ctx, appConfig.ProjectPath)
	if err != nil {
		panic(fmt.Errorf("failed to load project configuration: %w", err))
	}
	if appConfig.Workers > 0 {
		cfgModel.Project.Workers = appConfig.Workers
	}
	if err := cfgModel.Validate(); err != nil {
		panic(fmt.Errorf("invalid project configuration: %w", err))
	}
	logger.Debug("Project configuration loaded.", "project", cfgModel.Project.Name)

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All importer modules registered.", "count", len(modules))

	if err := reg.Validate(); err != nil {
		// A mismatch between importers and asset types is a programmer error.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   cfgModel,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// ProjectConfig returns the loaded project model. This is primarily for
// testing.
func (a *App) ProjectConfig() *config.Model {
	return a.config
}
