// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package firewall

// OpKind names one of the Backend capability-set calls.
type OpKind string

const (
	OpCreateChain   OpKind = "create_chain"
	OpFlushChain    OpKind = "flush_chain"
	OpAppend        OpKind = "append"
	OpAppendReplace OpKind = "append_replace"
	OpExecute       OpKind = "execute"
	OpCommit        OpKind = "commit"
)

// Op is the wire-neutral representation of one Backend call. The
// Resolver produces an ordered []Op without touching a Backend directly,
// which is what makes it a pure, independently testable function
// (spec.md §8 property 2).
type Op struct {
	Kind  OpKind
	Table string
	Chain string
	Rule  string
}

func CreateChain(table, chain string) Op { return Op{Kind: OpCreateChain, Table: table, Chain: chain} }
func FlushChain(table, chain string) Op  { return Op{Kind: OpFlushChain, Table: table, Chain: chain} }
func Append(table, chain, rule string) Op {
	return Op{Kind: OpAppend, Table: table, Chain: chain, Rule: rule}
}
func AppendReplace(table, chain, rule string) Op {
	return Op{Kind: OpAppendReplace, Table: table, Chain: chain, Rule: rule}
}
func Execute(table, raw string) Op { return Op{Kind: OpExecute, Table: table, Rule: raw} }
func Commit() Op                   { return Op{Kind: OpCommit} }

// Apply replays ops against backend in order, stopping at the first
// error (spec.md §4.3: "failure of any single operation aborts the batch").
func Apply(backend Backend, ops []Op) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpCreateChain:
			err = backend.CreateChain(op.Table, op.Chain)
		case OpFlushChain:
			err = backend.FlushChain(op.Table, op.Chain)
		case OpAppend:
			err = backend.Append(op.Table, op.Chain, op.Rule)
		case OpAppendReplace:
			err = backend.AppendReplace(op.Table, op.Chain, op.Rule)
		case OpExecute:
			err = backend.Execute(op.Table, op.Rule)
		case OpCommit:
			err = backend.Commit()
		}
		if err != nil {
			return err
		}
	}
	return nil
}
