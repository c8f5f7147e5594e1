// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reconcile drives the Idle/Rebuilding/Shutting-down worker loop:
// it watches for policy-file changes, Docker lifecycle events, signals,
// and an optional periodic timer, coalesces bursts of triggers into a
// single pending rebuild, and is the only thing in the process that ever
// calls Commit on a firewall.Backend (spec.md §4.4/§5's single-writer
// discipline).
package reconcile

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"dfw.sh/dfw/internal/dockerfacade"
	dfwerrors "dfw.sh/dfw/internal/errors"
	"dfw.sh/dfw/internal/firewall"
	"dfw.sh/dfw/internal/logging"
	"dfw.sh/dfw/internal/policy"
	"dfw.sh/dfw/internal/resolver"
	"dfw.sh/dfw/internal/supervisor"
)

// ErrInterrupted is returned by Run when shutdown was triggered by
// SIGINT specifically, so internal/app can map it onto spec.md §6's exit
// code 130 (SIGTERM returns nil; cancellation of ctx returns ctx.Err()).
var ErrInterrupted = dfwerrors.New(dfwerrors.KindInternal, "interrupted")

// PolicyLoader reloads the policy from whatever source it was first read
// from — a single file or a directory of fragments — so the Reconciler
// doesn't need to know which.
type PolicyLoader func() (*policy.Policy, error)

// Config holds everything the Reconciler needs to run. DisableV6 mirrors
// the CLI's --disable-ipv6: BackendV6/Resolve are skipped entirely.
type Config struct {
	BackendV4       firewall.Backend
	BackendV6       firewall.Backend
	DisableV6       bool
	Facade          dockerfacade.Facade
	InitialPolicy   *policy.Policy
	LoadPolicy      PolicyLoader
	WatchPath       string // file or directory to watch for changes
	RebuildTimeout  time.Duration
	RefreshInterval time.Duration // 0 disables the periodic safety-net rebuild
	Logger          *logging.Logger
}

// Reconciler owns the worker goroutine and all mutable reconciliation
// state. Callers interact with it only through Run; everything else is
// internal to the worker to preserve the single-writer guarantee.
type Reconciler struct {
	backendV4 firewall.Backend
	backendV6 firewall.Backend
	disableV6 bool
	facade    dockerfacade.Facade
	loadFn    PolicyLoader
	watchPath string
	timeout   time.Duration
	refresh   time.Duration
	logger    *logging.Logger

	policy  atomic.Pointer[policy.Policy]
	dirty   chan struct{}
	tracker *supervisor.Tracker
}

// New constructs a Reconciler. The initial policy is installed
// immediately so a first RunOnce can proceed without waiting on a reload.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	r := &Reconciler{
		backendV4: cfg.BackendV4,
		backendV6: cfg.BackendV6,
		disableV6: cfg.DisableV6,
		facade:    cfg.Facade,
		loadFn:    cfg.LoadPolicy,
		watchPath: cfg.WatchPath,
		timeout:   cfg.RebuildTimeout,
		refresh:   cfg.RefreshInterval,
		logger:    logger.WithComponent("reconcile"),
		dirty:     make(chan struct{}, 1),
		tracker:   supervisor.New(supervisor.DefaultConfig()),
	}
	r.policy.Store(cfg.InitialPolicy)
	return r
}

// markDirty is the coalescing mailbox send: if a rebuild is already
// pending, this is a no-op (spec.md §5's "bounded ... channel with
// coalescing semantics").
func (r *Reconciler) markDirty() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled or a terminal signal (SIGINT/SIGTERM)
// is received, driving the Idle/Rebuilding/Shutting-down state machine.
// It performs one initial rebuild before entering the event loop so a
// freshly started controller doesn't wait on the first external trigger.
func (r *Reconciler) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	watchEvents, watchErrs, stopWatch := r.startWatch()
	defer stopWatch()

	events, eventErrs := r.facade.Events(ctx)

	var tickerC <-chan time.Time
	if r.refresh > 0 {
		ticker := time.NewTicker(r.refresh)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	r.rebuild(ctx)

	for {
		// Signals take priority over every other trigger (spec.md §5:
		// "Signals are delivered via a separate channel that the worker
		// selects on with higher priority").
		select {
		case sig := <-sigCh:
			if done, err := r.handleSignal(ctx, sig); done {
				return err
			}
			continue
		default:
		}

		select {
		case sig := <-sigCh:
			if done, err := r.handleSignal(ctx, sig); done {
				return err
			}

		case <-r.dirty:
			r.rebuild(ctx)

		case <-tickerC:
			r.markDirty()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.logger.Debug("docker event", "kind", ev.Kind)
			r.markDirty()

		case err, ok := <-eventErrs:
			if !ok {
				eventErrs = nil
				continue
			}
			r.logger.Warn("docker event stream error, will keep retrying on next trigger", "error", err)

		case <-watchEvents:
			r.markDirty()

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.logger.Warn("policy watch error", "error", err)

		case <-ctx.Done():
			r.logger.Info("shutting down", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (r *Reconciler) handleSignal(ctx context.Context, sig os.Signal) (shuttingDown bool, err error) {
	switch sig {
	case syscall.SIGHUP:
		r.logger.Info("received SIGHUP, reloading policy")
		if err := r.reloadPolicy(); err != nil {
			r.logger.Warn("policy reload failed, keeping previous policy in effect", "error", err)
			return false, nil
		}
		r.rebuild(ctx)
		return false, nil
	case syscall.SIGINT:
		r.logger.Info("received shutdown signal", "signal", sig)
		return true, ErrInterrupted
	case syscall.SIGTERM:
		r.logger.Info("received shutdown signal", "signal", sig)
		return true, nil
	default:
		return false, nil
	}
}

func (r *Reconciler) reloadPolicy() error {
	pol, err := r.loadFn()
	if err != nil {
		return err
	}
	r.policy.Store(pol)
	return nil
}

// rebuild performs one reconciliation pass and records its outcome with
// the degraded-state tracker. Errors are logged, never returned: the
// worker loop must keep running and keep accepting further triggers.
func (r *Reconciler) rebuild(ctx context.Context) {
	rebuildCtx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		rebuildCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	passID := uuid.NewString()
	if err := r.runOnceLabeled(rebuildCtx, passID); err != nil {
		r.tracker.RecordFailure(err, time.Now())
		r.logger.Warn("reconciliation pass failed, prior committed state left intact", "pass", passID, "error", err)
		if r.tracker.IsDegraded(time.Now()) {
			r.logger.Error("controller is degraded: repeated reconciliation failures, firewall state may be stale",
				"pass", passID, "failures", r.tracker.FailureCount(time.Now()))
		}
		return
	}
	r.tracker.RecordSuccess()
}

// runOnceLabeled runs one pass and maps a timed-out context onto
// KindRebuildTimeout, tagging every log line from the pass with passID
// so multiple concurrent log streams (e.g. forwarded to syslog) can be
// correlated back to a single reconciliation pass — diagnostic only,
// never consulted for control flow.
func (r *Reconciler) runOnceLabeled(ctx context.Context, passID string) error {
	err := r.runOnce(ctx, passID)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return dfwerrors.Wrap(err, dfwerrors.KindRebuildTimeout, "reconciliation pass exceeded rebuild timeout")
	}
	return err
}

// RunOnce performs exactly one reconciliation pass: snapshot Docker,
// resolve the current policy against it for each enabled family, and
// commit each backend (spec.md §4.2/§4.4). Exported for callers (and
// tests) that want a single pass without going through Run's worker
// loop or the degraded-state tracker.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	return r.runOnceLabeled(ctx, uuid.NewString())
}

func (r *Reconciler) runOnce(ctx context.Context, passID string) error {
	pol := r.policy.Load()
	if pol == nil {
		return dfwerrors.New(dfwerrors.KindInvariantViolation, "reconcile: no policy loaded")
	}

	containers, networks, err := r.facade.Snapshot(ctx)
	if err != nil {
		return dfwerrors.Wrap(err, dfwerrors.KindDockerUnavailable, "snapshot docker state")
	}

	if err := r.applyFamily(pol, containers, networks, firewall.FamilyV4, r.backendV4, passID); err != nil {
		return err
	}
	if r.disableV6 {
		return nil
	}
	return r.applyFamily(pol, containers, networks, firewall.FamilyV6, r.backendV6, passID)
}

func (r *Reconciler) applyFamily(pol *policy.Policy, containers []dockerfacade.ContainerSnapshot, networks []dockerfacade.NetworkSnapshot, family firewall.Family, backend firewall.Backend, passID string) error {
	ops, events := resolver.Resolve(pol, containers, networks, family)
	for _, ev := range events {
		switch ev.Severity {
		case resolver.SeverityWarn:
			r.logger.Warn(ev.Message, "pass", passID, "family", family)
		default:
			r.logger.Debug(ev.Message, "pass", passID, "family", family)
		}
	}

	if err := firewall.Apply(backend, ops); err != nil {
		return dfwerrors.Wrapf(err, dfwerrors.KindBackend, "commit %s firewall state", family)
	}
	return nil
}
