package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMissingSpecFileReturnsSpecError(t *testing.T) {
	result, err := Run(context.Background(), Options{SpecPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunMalformedSpecReturnsSpecError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	result, err := Run(context.Background(), Options{SpecPath: path})
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)
}
