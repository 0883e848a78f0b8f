package specdom

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandArrayIndices(t *testing.T) {
	tmpl := &Job{Ident: "c", Command: "echo", Args: []string{"$GATOR_ARRAY_INDEX"}}
	arr := &JobArray{Ident: "arr", Repeats: 3, Jobs: []Node{tmpl}}

	children, err := Children(arr)
	require.NoError(t, err)
	require.Len(t, children, 3)

	for i, c := range children {
		job, ok := c.(*Job)
		require.True(t, ok)
		assert.Equal(t, "c_"+strconv.Itoa(i), job.Ident)
		assert.Equal(t, strconv.Itoa(i), job.Env[ArrayIndexEnv])
	}
}

func TestJobArrayRepeatsZeroIsSpecError(t *testing.T) {
	arr := &JobArray{Ident: "arr", Repeats: 0, Jobs: []Node{&Job{Ident: "c"}}}
	_, err := Children(arr)
	assert.Error(t, err)
}

func TestJobArrayRepeatsOneEquivalentToGroup(t *testing.T) {
	tmpl := &Job{Ident: "c", Command: "echo"}
	arr := &JobArray{Ident: "arr", Repeats: 1, Jobs: []Node{tmpl}}
	children, err := Children(arr)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "c_0", children[0].NodeIdent())
}

func TestValidateSiblingsDetectsCycle(t *testing.T) {
	a := &Job{Ident: "A", Deps: Deps{OnPass: []string{"B"}}}
	b := &Job{Ident: "B", Deps: Deps{OnPass: []string{"A"}}}
	err := ValidateSiblings([]Node{a, b})
	assert.Error(t, err)
}

func TestValidateSiblingsDetectsUnknownDependency(t *testing.T) {
	a := &Job{Ident: "A", Deps: Deps{OnPass: []string{"ghost"}}}
	err := ValidateSiblings([]Node{a})
	assert.Error(t, err)
}

func TestValidateSiblingsDetectsDuplicateIdent(t *testing.T) {
	a := &Job{Ident: "A"}
	b := &Job{Ident: "A"}
	err := ValidateSiblings([]Node{a, b})
	assert.Error(t, err)
}

func TestValidateSiblingsAccepts(t *testing.T) {
	a := &Job{Ident: "A"}
	b := &Job{Ident: "B", Deps: Deps{OnPass: []string{"A"}}}
	err := ValidateSiblings([]Node{a, b})
	assert.NoError(t, err)
}
