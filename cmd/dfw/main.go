// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"os"

	"dfw.sh/dfw/internal/app"
	"dfw.sh/dfw/internal/logging"
)

// Signal handling (SIGHUP reload, SIGINT/SIGTERM shutdown) is owned
// entirely by internal/reconcile.Reconciler.Run, which needs to
// distinguish them from every other reconciliation trigger under a
// single select loop (spec.md §5's "signals take priority"). main stays
// a thin flag-parse-and-dispatch shell, as the teacher's cmd/proxy.go
// does for its own entry point.
func main() {
	flags, err := app.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(app.ExitPolicyParseError)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(flags.LogLevel)
	logCfg.Output = os.Stderr
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	os.Exit(app.Run(context.Background(), flags, logger))
}
