package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bc-dunia/gatortree/internal/specdom"
)

func TestResolveLaunchesWhenNoDeps(t *testing.T) {
	children := []ChildState{{Ident: "a", State: StatePending}}
	part := Resolve(children, nil)
	assert.Equal(t, []string{"a"}, part.Launch)
	assert.Empty(t, part.Waiting)
	assert.Empty(t, part.Abort)
}

func TestResolveWaitsOnIncompleteOnDone(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateStarted},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnDone: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Waiting)
	assert.Empty(t, part.Launch)
}

func TestResolveOnDoneSatisfiedByAbortedDependency(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultAborted},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnDone: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Launch)
}

func TestResolveOnPassLaunchesAfterDependencySucceeds(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultSuccess},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnPass: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Launch)
}

// A child with on_pass targeting a job that ends in FAILURE is aborted
// without ever launching, per §8's boundary scenario.
func TestResolveOnPassAbortsWhenDependencyFails(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultFailure},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnPass: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Abort)
	assert.Empty(t, part.Launch)
}

func TestResolveOnPassAbortsWhenDependencyAborted(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultAborted},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnPass: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Abort)
}

// A child with on_fail targeting a job that fails launches normally:
// the dependency failing is the expected trigger, not a violation.
func TestResolveOnFailLaunchesWhenDependencyFails(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultFailure},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnFail: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Launch)
}

func TestResolveOnFailAbortsWhenDependencySucceeds(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateComplete, Result: ResultSuccess},
		{Ident: "b", State: StatePending},
	}
	deps := map[string]specdom.Deps{"b": {OnFail: []string{"a"}}}
	part := Resolve(children, deps)
	assert.Equal(t, []string{"b"}, part.Abort)
}

func TestResolveOrdersOutputByIdent(t *testing.T) {
	children := []ChildState{
		{Ident: "zeta", State: StatePending},
		{Ident: "alpha", State: StatePending},
	}
	part := Resolve(children, nil)
	assert.Equal(t, []string{"alpha", "zeta"}, part.Launch)
}

func TestResolveIgnoresNonPendingChildren(t *testing.T) {
	children := []ChildState{
		{Ident: "a", State: StateLaunched},
		{Ident: "b", State: StateComplete, Result: ResultSuccess},
	}
	part := Resolve(children, nil)
	assert.Empty(t, part.Launch)
	assert.Empty(t, part.Waiting)
	assert.Empty(t, part.Abort)
}
