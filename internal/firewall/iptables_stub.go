// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package firewall

import (
	"errors"

	"dfw.sh/dfw/internal/logging"
)

// IPTablesBackend is unavailable on non-Linux hosts; the real
// implementation lives in iptables.go behind a linux build tag.
type IPTablesBackend struct{}

func NewIPTablesBackend(family Family, logger *logging.Logger) (*IPTablesBackend, error) {
	return nil, errors.New("firewall: iptables backend requires linux")
}

func (b *IPTablesBackend) CreateChain(table, chain string) error         { return nil }
func (b *IPTablesBackend) FlushChain(table, chain string) error          { return nil }
func (b *IPTablesBackend) Append(table, chain, rule string) error        { return nil }
func (b *IPTablesBackend) AppendReplace(table, chain, rule string) error { return nil }
func (b *IPTablesBackend) Execute(table, raw string) error               { return nil }
func (b *IPTablesBackend) Commit() error                                 { return nil }
