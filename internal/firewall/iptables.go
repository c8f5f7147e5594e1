// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package firewall

import (
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"dfw.sh/dfw/internal/logging"
)

// IPTablesBackend talks to the kernel's netfilter subsystem through the
// iptables userspace binary (via go-iptables), for a single protocol
// family. Operations between commits are queued in call order and run in
// Commit. A failed operation stops the batch: nothing queued after it
// runs, but the operations that ran before it stay applied, so the
// kernel state is not swapped atomically (see Commit).
type IPTablesBackend struct {
	ipt    *iptables.IPTables
	family Family
	logger *logging.Logger

	mu      sync.Mutex
	pending []func() error
}

// NewIPTablesBackend constructs a backend for the given family.
func NewIPTablesBackend(family Family, logger *logging.Logger) (*IPTablesBackend, error) {
	proto := iptables.ProtocolIPv4
	if family == FamilyV6 {
		proto = iptables.ProtocolIPv6
	}
	ipt, err := iptables.NewWithProtocol(proto)
	if err != nil {
		return nil, &BackendError{Op: "init", Err: err}
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &IPTablesBackend{
		ipt:    ipt,
		family: family,
		logger: logger.WithComponent("firewall." + string(family)),
	}, nil
}

func (b *IPTablesBackend) queue(op func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, op)
}

func (b *IPTablesBackend) CreateChain(table, chain string) error {
	b.queue(func() error {
		ok, err := b.ipt.ChainExists(table, chain)
		if err != nil {
			return &BackendError{Op: "create_chain", Table: table, Chain: chain, Err: err}
		}
		if ok {
			return nil
		}
		if err := b.ipt.NewChain(table, chain); err != nil {
			return &BackendError{Op: "create_chain", Table: table, Chain: chain, Err: err}
		}
		return nil
	})
	return nil
}

func (b *IPTablesBackend) FlushChain(table, chain string) error {
	b.queue(func() error {
		if err := b.ipt.ClearChain(table, chain); err != nil {
			return &BackendError{Op: "flush_chain", Table: table, Chain: chain, Err: err}
		}
		return nil
	})
	return nil
}

func (b *IPTablesBackend) Append(table, chain, rule string) error {
	b.queue(func() error {
		if err := b.ipt.Append(table, chain, splitArgs(rule)...); err != nil {
			return &BackendError{Op: "append", Table: table, Chain: chain, Rule: rule, Err: err}
		}
		return nil
	})
	return nil
}

// AppendReplace leaves an identical existing rule in place instead of
// duplicating it — go-iptables' AppendUnique is exactly this primitive,
// which is what keeps the built-in-to-managed-chain jump rules
// idempotent across reconciliation passes (spec.md invariant 2).
func (b *IPTablesBackend) AppendReplace(table, chain, rule string) error {
	b.queue(func() error {
		if err := b.ipt.AppendUnique(table, chain, splitArgs(rule)...); err != nil {
			return &BackendError{Op: "append_replace", Table: table, Chain: chain, Rule: rule, Err: err}
		}
		return nil
	})
	return nil
}

// Execute applies one verbatim rule line: either an initialization rule
// from the policy (spec.md §4.2 step 4, a full argument line such as
// "-A INPUT -p tcp --dport 22 -j ACCEPT") or a built-in chain default
// policy change ("-P FORWARD DROP", spec.md §4.2 step 2). The former is
// routed through Append once its chain is extracted from the -A/-I flag;
// the latter maps onto go-iptables' ChangePolicy.
func (b *IPTablesBackend) Execute(table, raw string) error {
	b.queue(func() error {
		args := splitArgs(raw)
		if len(args) == 3 && (args[0] == "-P" || args[0] == "--policy") {
			chain, target := args[1], args[2]
			if err := b.ipt.ChangePolicy(table, chain, target); err != nil {
				return &BackendError{Op: "execute", Table: table, Chain: chain, Rule: raw, Err: err}
			}
			return nil
		}
		chain, ruleArgs, err := splitChainFlag(raw)
		if err != nil {
			return &BackendError{Op: "execute", Table: table, Rule: raw, Err: err}
		}
		if err := b.ipt.Append(table, chain, ruleArgs...); err != nil {
			return &BackendError{Op: "execute", Table: table, Chain: chain, Rule: raw, Err: err}
		}
		return nil
	})
	return nil
}

// Commit runs every queued operation in order. The first failure aborts
// the remainder of the batch and is returned as a BackendError; nothing
// queued after the failing operation reaches the kernel, and whatever
// ran before it is left applied (go-iptables has no native multi-op
// transaction primitive, so this backend's atomicity guarantee is
// "stop on first failure", matching spec.md §4.3's "failure of any
// single operation aborts the batch").
func (b *IPTablesBackend) Commit() error {
	b.mu.Lock()
	ops := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, op := range ops {
		if err := op(); err != nil {
			b.logger.Warn("commit aborted", "family", b.family, "error", err)
			return err
		}
	}
	b.logger.Debug("commit applied", "family", b.family, "ops", len(ops))
	return nil
}

func splitArgs(rule string) []string {
	return strings.Fields(rule)
}

// splitChainFlag extracts the chain name following a leading -A/-I flag
// from a raw iptables argument line, returning the remaining arguments
// as the rule spec to append.
func splitChainFlag(raw string) (chain string, rest []string, err error) {
	args := splitArgs(raw)
	if len(args) < 2 {
		return "", nil, errShortRawRule
	}
	switch args[0] {
	case "-A", "--append", "-I", "--insert":
		return args[1], args[2:], nil
	default:
		return "", nil, errShortRawRule
	}
}

var errShortRawRule = &backendSentinelError{"raw rule must start with -A/-I <chain> ..."}

type backendSentinelError struct{ msg string }

func (e *backendSentinelError) Error() string { return e.msg }
