// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package app wires together policy loading, the Docker facade, the
// firewall backends, and the Reconciler into the single process started
// by cmd/dfw: parse flags, build dependencies, run until shutdown, map
// the outcome onto spec.md §6's exit codes. It is unrelated to
// internal/supervisor.Tracker, the failed-pass counter used inside
// internal/reconcile, which answers a different question (see its
// package doc).
package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dfw.sh/dfw/internal/dockerfacade"
	dfwerrors "dfw.sh/dfw/internal/errors"
	"dfw.sh/dfw/internal/firewall"
	"dfw.sh/dfw/internal/logging"
	"dfw.sh/dfw/internal/policy"
	"dfw.sh/dfw/internal/reconcile"
)

// Exit codes, spec.md §6.
const (
	ExitOK                   = 0
	ExitPolicyParseError     = 2
	ExitBackendInitFailure   = 3
	ExitDockerConnectFailure = 4
	ExitInterrupted          = 130
)

// Flags holds the five CLI flags spec.md §6 names.
type Flags struct {
	ConfigPath   string
	LoadInterval time.Duration
	DisableIPv6  bool
	DryRun       bool
	LogLevel     string
}

// ParseFlags parses args (os.Args[1:]) into Flags.
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("dfw", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ConfigPath, "config", "/etc/dfw/policy.toml", "policy file or directory of .toml fragments")
	fs.DurationVar(&f.LoadInterval, "load-interval", 0, "periodic safety-net rebuild interval (0 disables it)")
	fs.BoolVar(&f.DisableIPv6, "disable-ipv6", false, "skip IPv6 rule synthesis entirely")
	fs.BoolVar(&f.DryRun, "dry-run", false, "write the recording-backend transcript to stdout instead of touching iptables")
	fs.StringVar(&f.LogLevel, "log-level", "info", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// loadPolicy chooses Load or LoadDir depending on whether path names a
// file or a directory.
func loadPolicy(path string) (*policy.Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, dfwerrors.Wrapf(err, dfwerrors.KindPolicyParse, "stat policy path %s", path)
	}
	if info.IsDir() {
		return policy.LoadDir(path)
	}
	return policy.Load(path)
}

// Run builds every dependency from flags, starts the Reconciler, and
// blocks until ctx is canceled or the Reconciler returns. The returned
// int is the process exit code the caller (cmd/dfw) should use.
func Run(ctx context.Context, flags Flags, logger *logging.Logger) int {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	logger = logger.WithComponent("app")

	pol, err := loadPolicy(flags.ConfigPath)
	if err != nil {
		logger.Error("failed to load policy", "path", flags.ConfigPath, "error", err)
		return ExitPolicyParseError
	}
	if err := pol.Validate(); err != nil {
		logger.Error("policy failed validation", "path", flags.ConfigPath, "error", err)
		return ExitPolicyParseError
	}

	facade, err := dockerfacade.New("", logger)
	if err != nil {
		logger.Error("failed to construct docker client", "error", err)
		return ExitBackendInitFailure
	}
	defer facade.Close()

	waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Minute)
	defer cancelWait()
	if err := dockerfacade.WaitForDaemon(waitCtx, facade, 8, 500*time.Millisecond); err != nil {
		logger.Error("docker daemon unreachable", "error", err)
		return ExitDockerConnectFailure
	}

	backendV4, backendV6, err := buildBackends(flags, logger)
	if err != nil {
		logger.Error("failed to initialize firewall backend", "error", err)
		return ExitBackendInitFailure
	}

	rec := reconcile.New(reconcile.Config{
		BackendV4:     backendV4,
		BackendV6:     backendV6,
		DisableV6:     flags.DisableIPv6,
		Facade:        facade,
		InitialPolicy: pol,
		LoadPolicy: func() (*policy.Policy, error) {
			p, err := loadPolicy(flags.ConfigPath)
			if err != nil {
				return nil, err
			}
			if err := p.Validate(); err != nil {
				return nil, dfwerrors.Wrap(err, dfwerrors.KindPolicyParse, "reloaded policy failed validation")
			}
			return p, nil
		},
		WatchPath:       flags.ConfigPath,
		RebuildTimeout:  30 * time.Second,
		RefreshInterval: flags.LoadInterval,
		Logger:          logger,
	})

	runErr := rec.Run(ctx)
	switch {
	case runErr == nil:
		logger.Info("exited normally")
		return ExitOK
	case dfwerrors.Is(runErr, reconcile.ErrInterrupted), runErr == context.Canceled:
		logger.Info("interrupted")
		return ExitInterrupted
	default:
		logger.Error("reconciler exited with error", "error", runErr)
		return ExitInterrupted
	}
}

// buildBackends constructs the firewall backends the Reconciler commits
// to: two real IPTablesBackends, or a single RecordingBackend shared by
// both families in --dry-run mode (the transcript is the deliverable,
// not a real kernel table).
func buildBackends(flags Flags, logger *logging.Logger) (v4, v6 firewall.Backend, err error) {
	if flags.DryRun {
		rec := firewall.NewRecordingBackend(os.Stdout)
		return rec, rec, nil
	}

	v4Backend, err := firewall.NewIPTablesBackend(firewall.FamilyV4, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("ipv4 backend: %w", err)
	}
	if flags.DisableIPv6 {
		return v4Backend, nil, nil
	}
	v6Backend, err := firewall.NewIPTablesBackend(firewall.FamilyV6, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("ipv6 backend: %w", err)
	}
	return v4Backend, v6Backend, nil
}
