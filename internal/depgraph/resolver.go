// Package depgraph implements the dependency resolver from §4.7: given a
// tier's sibling child records, partitions the PENDING set into
// launch-now, still-waiting, and abort, evaluated per child in ident
// order to break ties: poll a snapshot of current state, evaluate a
// fixed rule set, emit a decision — the rule set is fixed by §4.7
// rather than configured per run.
package depgraph

import (
	"sort"

	"github.com/bc-dunia/gatortree/internal/specdom"
)

// ChildState mirrors the subset of a tier's ChildRecord the resolver
// needs: ident, current protocol state, and terminal result.
type ChildState struct {
	Ident  string
	State  State
	Result Result
}

// State is a child record's lifecycle state, per §3.
type State int

const (
	StatePending State = iota
	StateLaunched
	StateStarted
	StateComplete
)

// Result is a child record's terminal result, per §3.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultFailure
	ResultAborted
)

// Partition is the resolver's output: which PENDING children to launch
// now, which remain waiting, and which must be discarded as ABORTED.
type Partition struct {
	Launch  []string
	Waiting []string
	Abort   []string
}

// Resolve evaluates every PENDING child in children against deps (keyed
// by ident) and the current snapshot of all siblings (also keyed by
// ident), applying §4.7's satisfied/violated rules.
func Resolve(children []ChildState, deps map[string]specdom.Deps) Partition {
	byIdent := make(map[string]ChildState, len(children))
	for _, c := range children {
		byIdent[c.Ident] = c
	}

	pending := make([]ChildState, 0, len(children))
	for _, c := range children {
		if c.State == StatePending {
			pending = append(pending, c)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Ident < pending[j].Ident })

	var part Partition
	for _, c := range pending {
		d := deps[c.Ident]
		switch evaluate(d, byIdent) {
		case decisionAbort:
			part.Abort = append(part.Abort, c.Ident)
		case decisionLaunch:
			part.Launch = append(part.Launch, c.Ident)
		default:
			part.Waiting = append(part.Waiting, c.Ident)
		}
	}
	return part
}

type decision int

const (
	decisionWait decision = iota
	decisionLaunch
	decisionAbort
)

func evaluate(d specdom.Deps, siblings map[string]ChildState) decision {
	allSatisfied := true

	for _, ident := range d.OnDone {
		sib := siblings[ident]
		if !(sib.State == StateComplete || sib.Result == ResultAborted) {
			allSatisfied = false
		}
	}
	for _, ident := range d.OnPass {
		sib := siblings[ident]
		if sib.State == StateComplete {
			if sib.Result == ResultFailure || sib.Result == ResultAborted {
				return decisionAbort
			}
			if sib.Result != ResultSuccess {
				allSatisfied = false
			}
		} else {
			allSatisfied = false
		}
	}
	for _, ident := range d.OnFail {
		sib := siblings[ident]
		if sib.State == StateComplete {
			if sib.Result == ResultSuccess {
				return decisionAbort
			}
			if sib.Result != ResultFailure {
				allSatisfied = false
			}
		} else {
			allSatisfied = false
		}
	}

	if allSatisfied {
		return decisionLaunch
	}
	return decisionWait
}
