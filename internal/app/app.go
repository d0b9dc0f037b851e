// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skobkin/drmtop/internal/accounting"
	"github.com/skobkin/drmtop/internal/config"
	"github.com/skobkin/drmtop/internal/engine"
	"github.com/skobkin/drmtop/internal/export"
	"github.com/skobkin/drmtop/internal/gpu"
	"github.com/skobkin/drmtop/internal/ui"
	"github.com/skobkin/drmtop/internal/xe"
)

const shutdownTimeout = 10 * time.Second

// ErrNoDevices reports that discovery completed but found nothing to
// monitor. Callers treat it as an informational exit, not a failure.
var ErrNoDevices = errors.New("no supported devices found")

// Run bootstraps the device registry and drives either the one-shot
// snapshot mode or the interactive loop with its optional HTTP surface.
// Quit keys and termination signals are consumed by the loop itself.
func Run(baseLogger *slog.Logger, cfg config.Config, snapshot bool) error {
	appLogger := baseLogger.With("component", "app")

	backend, err := xe.New(xe.Options{
		SysfsRoot:        cfg.SysfsRoot,
		ProcRoot:         cfg.ProcRoot,
		MaxPIDs:          cfg.Proc.MaxPIDs,
		MaxFDsPerPID:     cfg.Proc.MaxFDsPerPID,
		Policy: accounting.BuildPolicy(accounting.Tuning{
			VideoInAggregate: cfg.Aggregation.VideoInAggregate,
			CopyInAggregate:  cfg.Aggregation.CopyInAggregate,
		}),
		StrictAccounting: cfg.StrictAccounting,
	}, baseLogger)
	if err != nil {
		return fmt.Errorf("init xe backend: %w", err)
	}

	registry, err := gpu.NewRegistry([]gpu.Backend{backend}, cfg.DeviceEnabled, baseLogger)
	if err != nil {
		backend.Close()
		return fmt.Errorf("build device registry: %w", err)
	}
	appLogger.Info("discovered devices", "count", len(registry.Devices()))

	if len(registry.Devices()) == 0 {
		backend.Close()
		return ErrNoDevices
	}

	if snapshot {
		snapshotter := engine.NewSnapshotter(registry, cfg.SnapshotWarmup, cfg.SnapshotWindow, baseLogger)
		return snapshotter.Run(os.Stdout)
	}

	var (
		hub   *export.Hub
		srv   *export.Server
		srvCh chan error
	)
	if cfg.Export.ListenAddr != "" {
		hub = export.NewHub()
		srv = export.NewServer(cfg.Export, hub, baseLogger)
		srvCh = make(chan error, 1)
		go func() {
			srvCh <- srv.Start()
		}()
	}

	term, err := ui.NewTerm(cfg.RefreshInterval, cfg.DisableProcessList, baseLogger)
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer term.Close()

	var publisher engine.Publisher
	if hub != nil {
		publisher = hub
	}

	loop := engine.NewLoop(registry, term, publisher, baseLogger)
	loopErr := loop.Run()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Warn("http shutdown", "err", err)
		}
		if err := <-srvCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Warn("http server", "err", err)
		}
	}

	return loopErr
}
