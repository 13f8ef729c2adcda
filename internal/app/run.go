package app

import (
	"context"
	"fmt"

	"github.com/vk/assetpipe/internal/ctxlog"
	"github.com/vk/assetpipe/internal/daemon"
)

// Run executes the selected verb against the loaded project.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "verb", appConfig.Verb)

	d, err := daemon.New(a.config, a.registry)
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer d.Close()

	switch appConfig.Verb {
	case "scan":
		changed, err := d.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		a.logger.Info("Scan finished.", "changed", changed)
		return nil

	case "pack":
		if err := d.Pack(ctx, appConfig.PackOutput); err != nil {
			return fmt.Errorf("pack failed: %w", err)
		}
		return nil

	case "daemon":
		a.logger.Info("Starting asset daemon.",
			"project", a.config.Project.Name,
			"listen", a.config.Project.ListenAddr,
			"notify", a.config.Project.NotifyAddr)
		return d.Run(ctx)

	default:
		return fmt.Errorf("unknown verb %q", appConfig.Verb)
	}
}
