package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/skobkin/drmtop/internal/app"
	"github.com/skobkin/drmtop/internal/config"
	"github.com/skobkin/drmtop/internal/version"
)

func main() {
	var (
		delay       time.Duration
		snapshot    bool
		noProcesses bool
		configFile  string
		listenAddr  string
		showVersion bool
	)

	pflag.DurationVarP(&delay, "delay", "d", 0, "refresh interval (e.g. 500ms, 2s)")
	pflag.BoolVarP(&snapshot, "snapshot", "s", false, "print one JSON snapshot and exit")
	pflag.BoolVarP(&noProcesses, "no-processes", "P", false, "start with the process list frozen")
	pflag.StringVarP(&configFile, "config-file", "c", "", "path to a YAML configuration file")
	pflag.StringVar(&listenAddr, "listen", "", "serve HTTP/websocket state on this address")
	pflag.BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	// Flags override both the file and the environment.
	if delay > 0 {
		cfg.RefreshInterval = delay
	}
	if noProcesses {
		cfg.DisableProcessList = true
	}
	if listenAddr != "" {
		cfg.Export.ListenAddr = listenAddr
	}

	logger := buildLogger(cfg, snapshot)

	if err := app.Run(logger, cfg, snapshot); err != nil {
		if errors.Is(err, app.ErrNoDevices) {
			fmt.Fprintln(os.Stderr, "drmtop: no supported devices found")
			return
		}
		fatal("application error", err)
	}
}

// buildLogger keeps log output away from the interactive display: the
// snapshot mode logs to stderr (JSON goes to stdout), the interactive
// mode only logs when a log file is configured.
func buildLogger(cfg config.Config, snapshot bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if snapshot {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	if path := os.Getenv("DRMTOP_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return slog.New(slog.NewTextHandler(f, opts))
		}
	}
	return slog.New(slog.NewTextHandler(io.Discard, opts))
}

func fatal(msg string, err error) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
	slog.New(handler).Error(msg, "err", err)
	os.Exit(1)
}
