package specdom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSumsAcrossEntries(t *testing.T) {
	resources := []Resource{
		Cores{Count: 2},
		Cores{Count: 1},
		Memory{Size: 512, Unit: UnitMB},
		License{Name: "matlab", Count: 1},
		License{Name: "matlab", Count: 2},
	}
	norm, err := Normalize(resources)
	require.NoError(t, err)
	assert.Equal(t, 3, norm.Cores)
	assert.Equal(t, uint64(512)*(1<<20), norm.Bytes)
	assert.Equal(t, 3, norm.Licenses["matlab"])
}

func TestLicenseDefaultCountIsOne(t *testing.T) {
	norm, err := Normalize([]Resource{License{Name: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, norm.Licenses["x"])
}

func TestMemoryBytesRejectsUnknownUnit(t *testing.T) {
	_, err := Memory{Size: 1, Unit: "PB"}.Bytes()
	assert.Error(t, err)
}
