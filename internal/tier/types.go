// Package tier implements the interior supervisor from §4.6: a tier
// holds a scheduler, a dependency resolver, and an aggregation table of
// its direct children, speaking the same protocol a wrapper does.
package tier

import (
	"time"

	"github.com/bc-dunia/gatortree/internal/depgraph"
	"github.com/bc-dunia/gatortree/internal/specdom"
)

// State is a tier or wrapper's own lifecycle state, per §4.5/§4.6.
type State string

const (
	StateInit      State = "INIT"
	StateConnect   State = "CONNECT"
	StateExpand    State = "EXPAND"
	StateLaunch    State = "LAUNCH"
	StateSupervise State = "SUPERVISE"
	StateReport    State = "REPORT"
	StateExit      State = "EXIT"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateInit:      {StateConnect: {}, StateExpand: {}},
	StateConnect:   {StateExpand: {}},
	StateExpand:    {StateLaunch: {}},
	StateLaunch:    {StateSupervise: {}},
	StateSupervise: {StateReport: {}},
	StateReport:    {StateExit: {}},
}

// CanTransition reports whether a tier lifecycle transition is valid.
func CanTransition(from, to State) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ChildRecord is §3's Child record: everything a tier tracks about one
// direct child after EXPAND.
type ChildRecord struct {
	Ident       string
	Spec        specdom.Node
	State       depgraph.State
	Result      depgraph.Result
	ServerURL   string
	ExitCode    int
	Metrics     map[string]int64
	StartedTS   int64
	UpdatedTS   int64
	CompletedTS int64
}

// Aggregate is the tier-maintained counters from §3's "Aggregate
// metrics": sub_total/sub_active/sub_passed/sub_failed plus an
// element-wise sum of every named metric seen from any child.
type Aggregate struct {
	SubTotal  int64
	SubActive int64
	SubPassed int64
	SubFailed int64
	Named     map[string]int64
}

// nowUnix is overridable in tests; production code always uses the
// wall clock.
var nowUnix = func() int64 { return time.Now().Unix() }
