package specyaml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bc-dunia/gatortree/internal/specdom"
)

func TestDecodeJob(t *testing.T) {
	doc := []byte(`!Job
ident: hello
command: echo
args: ["hi"]
`)
	n, err := Decode(doc)
	require.NoError(t, err)
	job, ok := n.(*specdom.Job)
	require.True(t, ok)
	assert.Equal(t, "hello", job.Ident)
	assert.Equal(t, "echo", job.Command)
	assert.Equal(t, []string{"hi"}, job.Args)
}

func TestDecodeJobGroupWithSequencing(t *testing.T) {
	doc := []byte(`!JobGroup
ident: g
jobs:
  - !Job
    ident: A
    command: echo
    args: ["a"]
  - !Job
    ident: B
    command: echo
    args: ["b"]
    on_pass: ["A"]
`)
	n, err := Decode(doc)
	require.NoError(t, err)
	group, ok := n.(*specdom.JobGroup)
	require.True(t, ok)
	require.Len(t, group.Jobs, 2)
	b := group.Jobs[1].(*specdom.Job)
	assert.Equal(t, []string{"A"}, b.Deps.OnPass)
}

func TestDecodeJobArrayWithRepeats(t *testing.T) {
	doc := []byte(`!JobArray
ident: arr
repeats: 3
jobs:
  - !Job
    ident: c
    command: echo
    args: ["$GATOR_ARRAY_INDEX"]
`)
	n, err := Decode(doc)
	require.NoError(t, err)
	arr, ok := n.(*specdom.JobArray)
	require.True(t, ok)
	assert.Equal(t, 3, arr.Repeats)
}

func TestDecodeResourcesSequenceAndMappingForms(t *testing.T) {
	doc := []byte(`!Job
ident: j
command: run
resources:
  - !Cores [4]
  - !Memory {size: 512, unit: MB}
  - !License [matlab, 2]
`)
	n, err := Decode(doc)
	require.NoError(t, err)
	job := n.(*specdom.Job)
	require.Len(t, job.Resources, 3)
	assert.Equal(t, specdom.Cores{Count: 4}, job.Resources[0])
	assert.Equal(t, specdom.Memory{Size: 512, Unit: specdom.UnitMB}, job.Resources[1])
	assert.Equal(t, specdom.License{Name: "matlab", Count: 2}, job.Resources[2])
}

func TestRoundTripJob(t *testing.T) {
	original := &specdom.Job{
		Ident:   "hello",
		Command: "echo",
		Args:    []string{"hi"},
		Env:     map[string]string{"X": "1"},
	}
	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	job := decoded.(*specdom.Job)
	assert.Equal(t, original.Ident, job.Ident)
	assert.Equal(t, original.Command, job.Command)
	assert.Equal(t, original.Args, job.Args)
	assert.Equal(t, original.Env, job.Env)
}

func TestExpandStringUsesLaunchTimeEnv(t *testing.T) {
	env := map[string]string{"GATOR_ARRAY_INDEX": "2"}
	assert.Equal(t, "index-2", ExpandString("index-$GATOR_ARRAY_INDEX", env))
	assert.Equal(t, "index-2", ExpandString("index-${GATOR_ARRAY_INDEX}", env))
}
