// File: cmd/fluxd/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/internal/logging"
	"github.com/momentics/fluxd/server"
)

type runFlags struct {
	modulesDir  string
	runtimeDir  string
	adminAddr   string
	workers     int
	pinWorkers  bool
	pollTimeout time.Duration
	logLevel    string
	logFormat   string
	set         []string
	load        []string
}

func newRunCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Long: `Run loads every plugin in the modules directory, then the plugins named
with --load, and drives the host loop until SIGINT or SIGTERM. SIGHUP fires a
configuration reload. Flags override FLUXD_* environment variables.

Example:
  fluxd run --modules ./modules --admin 127.0.0.1:9300
  fluxd run --set listen.port=7000 --load ./modules/echo.so`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cmd, cfg)
		},
	}
	f.register(cmd)
	return cmd
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.modulesDir, "modules", "", "plugin directory (FLUXD_MODULES_DIR)")
	fl.StringVar(&f.runtimeDir, "runtime", "", "runtime copy directory (FLUXD_RUNTIME_DIR)")
	fl.StringVar(&f.adminAddr, "admin", "", "admin HTTP listen address, empty disables (FLUXD_ADMIN_ADDR)")
	fl.IntVar(&f.workers, "workers", 0, "worker threads, 0 for two per CPU (FLUXD_WORKERS)")
	fl.BoolVar(&f.pinWorkers, "pin-workers", false, "pin worker threads to CPUs (FLUXD_PIN_WORKERS)")
	fl.DurationVar(&f.pollTimeout, "poll-timeout", 0, "multiplexer wait per loop iteration (FLUXD_POLL_TIMEOUT)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (FLUXD_LOG_LEVEL)")
	fl.StringVar(&f.logFormat, "log-format", "", "json or text (FLUXD_LOG_FORMAT)")
	fl.StringArrayVar(&f.set, "set", nil, "configuration value as key=value, repeatable")
	fl.StringArrayVar(&f.load, "load", nil, "plugin path to load after the directory scan, repeatable")
}

// apply overlays the flags the user set on cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *server.Config) error {
	fl := cmd.Flags()
	if fl.Changed("modules") {
		cfg.ModulesDir = f.modulesDir
	}
	if fl.Changed("runtime") {
		cfg.RuntimeDir = f.runtimeDir
	}
	if fl.Changed("admin") {
		cfg.AdminAddr = f.adminAddr
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("pin-workers") {
		cfg.PinWorkers = f.pinWorkers
	}
	if fl.Changed("poll-timeout") {
		cfg.PollTimeout = f.pollTimeout
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = logging.ParseLevel(f.logLevel)
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = logging.ParseFormat(f.logFormat)
	}
	settings, err := control.ParseAssignments(f.set)
	if err != nil {
		return err
	}
	cfg.Settings = settings
	cfg.Autoload = append(cfg.Autoload, f.load...)
	return cfg.Validate()
}

func runDaemon(parent context.Context, cmd *cobra.Command, cfg server.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, server.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				srv.Logger().Info("SIGHUP received, reloading configuration", nil)
				_ = srv.Control().SetConfig(nil)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return errors.Join(err, srv.Shutdown(context.Background()))
	}
	runErr := srv.Run(ctx)
	return errors.Join(runErr, srv.Shutdown(context.Background()))
}
