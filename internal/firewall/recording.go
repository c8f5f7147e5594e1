// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"fmt"
	"io"
	"strings"
)

// RecordingBackend writes one tab-separated line per operation to an
// io.Writer, with no kernel interaction. Used by --dry-run and by every
// resolver/reconciler test. Transcript grammar (spec.md §6):
//
//	<op>\t<table> <chain> <rule>
//	commit
type RecordingBackend struct {
	w      io.Writer
	chains map[string]bool // table/chain pairs already created, for tests that assert on idempotence
}

// NewRecordingBackend returns a backend that writes its transcript to w.
func NewRecordingBackend(w io.Writer) *RecordingBackend {
	return &RecordingBackend{w: w, chains: make(map[string]bool)}
}

func (b *RecordingBackend) writeLine(op, table, chain, rule string) error {
	var line string
	if rule == "" {
		line = fmt.Sprintf("%s\t%s %s\n", op, table, chain)
	} else {
		line = fmt.Sprintf("%s\t%s %s %s\n", op, table, chain, rule)
	}
	_, err := io.WriteString(b.w, line)
	return err
}

func (b *RecordingBackend) CreateChain(table, chain string) error {
	b.chains[table+"/"+chain] = true
	return b.writeLine("create", table, chain, "")
}

func (b *RecordingBackend) FlushChain(table, chain string) error {
	return b.writeLine("flush", table, chain, "")
}

func (b *RecordingBackend) Append(table, chain, rule string) error {
	return b.writeLine("append", table, chain, rule)
}

func (b *RecordingBackend) AppendReplace(table, chain, rule string) error {
	return b.writeLine("append_replace", table, chain, rule)
}

func (b *RecordingBackend) Execute(table, raw string) error {
	return b.writeLine("execute", table, "-", raw)
}

func (b *RecordingBackend) Commit() error {
	_, err := io.WriteString(b.w, "commit\n")
	return err
}

// Buffer is a small helper for tests that want the transcript as a
// string rather than streamed to an arbitrary writer.
type Buffer struct {
	*RecordingBackend
	lines strings.Builder
}

// NewBuffer returns a RecordingBackend backed by an in-memory buffer.
func NewBuffer() *Buffer {
	buf := &Buffer{}
	buf.RecordingBackend = NewRecordingBackend(&buf.lines)
	return buf
}

// String returns the full transcript recorded so far.
func (b *Buffer) String() string {
	return b.lines.String()
}

// Lines returns the transcript split into individual lines, with any
// trailing empty line from the final newline removed.
func (b *Buffer) Lines() []string {
	s := b.lines.String()
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
