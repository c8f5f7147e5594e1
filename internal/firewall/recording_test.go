// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

import (
	"errors"
	"testing"
)

func TestRecordingBackendTranscriptGrammar(t *testing.T) {
	b := NewBuffer()

	if err := b.CreateChain(TableFilter, ChainInput); err != nil {
		t.Fatal(err)
	}
	if err := b.FlushChain(TableFilter, ChainInput); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(TableFilter, ChainInput, "-m state --state INVALID -j DROP"); err != nil {
		t.Fatal(err)
	}
	if err := b.AppendReplace(TableFilter, "INPUT", "-j "+ChainInput); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"create\tfilter DFWRS_INPUT",
		"flush\tfilter DFWRS_INPUT",
		"append\tfilter DFWRS_INPUT -m state --state INVALID -j DROP",
		"append_replace\tfilter INPUT -j DFWRS_INPUT",
		"commit",
	}
	got := b.Lines()
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCommitIsLastLine(t *testing.T) {
	b := NewBuffer()
	b.CreateChain(TableFilter, ChainInput)
	b.Commit()

	lines := b.Lines()
	if lines[len(lines)-1] != "commit" {
		t.Errorf("expected transcript to end with commit, got %q", lines[len(lines)-1])
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &BackendError{Op: "append", Table: "filter", Chain: "DFWRS_INPUT", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find wrapped inner error")
	}
}
